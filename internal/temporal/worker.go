package temporal

import (
	"context"
	"fmt"
	"time"

	"go.temporal.io/sdk/client"
	"go.temporal.io/sdk/worker"
	"go.temporal.io/sdk/workflow"
	"go.uber.org/zap"

	"github.com/Kocoro-lab/rfpstudio/internal/activities"
	"github.com/Kocoro-lab/rfpstudio/internal/orchestrator"
	"github.com/Kocoro-lab/rfpstudio/internal/workflows"
)

// Config locates the Temporal frontend.
type Config struct {
	Enabled   bool          `mapstructure:"enabled"`
	HostPort  string        `mapstructure:"host_port"`
	Namespace string        `mapstructure:"namespace"`
	TaskQueue string        `mapstructure:"task_queue"`
	Timeout   time.Duration `mapstructure:"timeout"`
}

func (c Config) withDefaults() Config {
	if c.HostPort == "" {
		c.HostPort = client.DefaultHostPort
	}
	if c.Namespace == "" {
		c.Namespace = client.DefaultNamespace
	}
	if c.TaskQueue == "" {
		c.TaskQueue = "rfpstudio-pipelines"
	}
	if c.Timeout <= 0 {
		c.Timeout = 10 * time.Minute
	}
	return c
}

// Dial connects a client, retrying with backoff until ctx expires.
func Dial(ctx context.Context, cfg Config, logger *zap.Logger) (client.Client, error) {
	cfg = cfg.withDefaults()
	opts := client.Options{
		HostPort:  cfg.HostPort,
		Namespace: cfg.Namespace,
		Logger:    NewZapAdapter(logger),
	}
	delay := time.Second
	for attempt := 1; ; attempt++ {
		c, err := client.Dial(opts)
		if err == nil {
			logger.Info("Connected to Temporal", zap.String("host_port", cfg.HostPort), zap.String("namespace", cfg.Namespace))
			return c, nil
		}
		logger.Warn("Temporal not ready, retrying", zap.Int("attempt", attempt), zap.Error(err))
		select {
		case <-ctx.Done():
			return nil, fmt.Errorf("dial temporal %s: %w", cfg.HostPort, err)
		case <-time.After(delay):
		}
		if delay < 15*time.Second {
			delay *= 2
		}
	}
}

// NewWorker registers the pipeline workflow and activities on the task queue.
func NewWorker(c client.Client, cfg Config, acts *activities.Activities) worker.Worker {
	cfg = cfg.withDefaults()
	w := worker.New(c, cfg.TaskQueue, worker.Options{})
	w.RegisterWorkflowWithOptions(workflows.RecordPipelineWorkflow, workflow.RegisterOptions{Name: workflows.RecordPipelineWorkflowName})
	w.RegisterActivity(acts)
	return w
}

// Runner starts record pipelines on Temporal and waits for their result.
type Runner struct {
	client client.Client
	cfg    Config
}

func NewRunner(c client.Client, cfg Config) *Runner {
	return &Runner{client: c, cfg: cfg.withDefaults()}
}

// Run executes the named pipeline as a workflow. The workflow id is the run id.
func (r *Runner) Run(ctx context.Context, p *orchestrator.Pipeline, req orchestrator.Request) (*orchestrator.State, error) {
	kinds := p.Kinds()
	tags := make([]string, len(kinds))
	for i, k := range kinds {
		tags[i] = string(k)
	}
	if req.RunID == "" {
		req.RunID = orchestrator.NewState(p.Name(), req).RunID
	}
	run, err := r.client.ExecuteWorkflow(ctx, client.StartWorkflowOptions{
		ID:                       req.RunID,
		TaskQueue:                r.cfg.TaskQueue,
		WorkflowExecutionTimeout: r.cfg.Timeout,
	}, workflows.RecordPipelineWorkflowName, workflows.RecordPipelineInput{
		Pipeline: p.Name(),
		Agents:   tags,
		Request:  req,
	})
	if err != nil {
		return nil, fmt.Errorf("start pipeline workflow: %w", err)
	}
	var out orchestrator.State
	if err := run.Get(ctx, &out); err != nil {
		return workflows.StateFromError(err), workflows.TranslateError(err)
	}
	return &out, nil
}
