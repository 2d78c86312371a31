package worker

import (
	"context"

	"github.com/hibiken/asynq"
	"go.uber.org/zap"

	"github.com/presencepro/platform/internal/service"
	"github.com/presencepro/platform/pkg/config"
)

// Worker runs the asynq consumer pool that performs delivery attempts.
type Worker struct {
	server *asynq.Server
	mux    *asynq.ServeMux
	logger *zap.Logger
}

// NewWorker constructs the consumer over the shared redis instance. Email is
// weighted highest since it carries the absence alerts.
func NewWorker(cfg config.Config, svc *service.NotificationService, logger *zap.Logger) *Worker {
	server := asynq.NewServer(
		asynqRedisOpt(cfg.Redis),
		asynq.Config{
			Concurrency: cfg.Notifier.WorkerConcurrency,
			Queues: map[string]int{
				QueueEmail:   4,
				QueuePush:    3,
				QueueSMS:     2,
				QueueDefault: 1,
			},
			Logger: newAsynqLogger(logger),
		},
	)

	mux := asynq.NewServeMux()
	mux.HandleFunc(TaskNotificationDeliver, func(ctx context.Context, t *asynq.Task) error {
		taskID, err := ParseDeliverTask(t)
		if err != nil {
			logger.Error("discarding malformed delivery task", zap.Error(err))
			return nil
		}
		return svc.Execute(ctx, taskID)
	})

	return &Worker{server: server, mux: mux, logger: logger}
}

// Start launches the consumer pool in the background.
func (w *Worker) Start() error {
	return w.server.Start(w.mux)
}

// Shutdown waits for in-flight tasks and stops the pool.
func (w *Worker) Shutdown() {
	w.server.Shutdown()
}

// asynqLogger adapts zap to asynq's logging interface.
type asynqLogger struct {
	s *zap.SugaredLogger
}

func newAsynqLogger(l *zap.Logger) *asynqLogger {
	return &asynqLogger{s: l.Named("asynq").Sugar()}
}

func (l *asynqLogger) Debug(args ...interface{}) { l.s.Debug(args...) }
func (l *asynqLogger) Info(args ...interface{})  { l.s.Info(args...) }
func (l *asynqLogger) Warn(args ...interface{})  { l.s.Warn(args...) }
func (l *asynqLogger) Error(args ...interface{}) { l.s.Error(args...) }
func (l *asynqLogger) Fatal(args ...interface{}) { l.s.Fatal(args...) }
