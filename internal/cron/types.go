package cron

import (
	"context"
	"errors"
	"time"
)

var (
	ErrAlreadyRunning = errors.New("cron service already running")
	ErrDuplicateJob   = errors.New("job already registered")
	ErrUnknownJob     = errors.New("unknown job")
)

// JobFunc 任务执行函数，返回一行结果描述
type JobFunc func(ctx context.Context) (string, error)

// Job 定时任务
type Job struct {
	Name     string
	Schedule string // robfig 标准表达式或 @every 描述符
	Run      JobFunc
}

// JobStatus 单个任务的执行情况
type JobStatus struct {
	Name       string    `json:"name"`
	Schedule   string    `json:"schedule"`
	Runs       int       `json:"runs"`
	LastRunAt  time.Time `json:"lastRunAt,omitempty"`
	LastResult string    `json:"lastResult,omitempty"`
	LastError  string    `json:"lastError,omitempty"`
	NextRunAt  time.Time `json:"nextRunAt,omitempty"`
}

// Status 服务状态
type Status struct {
	Running bool        `json:"running"`
	Jobs    []JobStatus `json:"jobs"`
}
