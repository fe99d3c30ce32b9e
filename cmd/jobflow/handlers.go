package main

import (
	"context"
	"fmt"

	"github.com/jdziat/jobflow"
	"github.com/jdziat/jobflow/pkg/registry"
)

type email struct {
	To      string `json:"to"`
	Subject string `json:"subject"`
	TaskID  string `json:"taskId"`
}

type project struct {
	Name string `json:"name"`
}

type step struct {
	Project string `json:"project"`
	TaskID  string `json:"taskId"`
}

func sendEmail(ctx context.Context, scope *registry.Scope, e email) (jobflow.Result, error) {
	if e.To == "" {
		return jobflow.Result{}, jobflow.NoRetry(fmt.Errorf("send-email: missing recipient"))
	}
	scope.Logger.Info("sending email", "to", e.To, "subject", e.Subject)
	return jobflow.Terminal(map[string]string{"status": "ok"}), nil
}

// expandProject continues into fetch -> lint -> report.
func expandProject(ctx context.Context, scope *registry.Scope, p project) (jobflow.Result, error) {
	if p.Name == "" {
		p.Name = "jobflow"
	}
	g, err := jobflow.NewDAG(
		jobflow.Task{ID: "fetch", Kind: "fetch-repo", Payload: map[string]any{"project": p.Name}},
		jobflow.Task{ID: "lint", Kind: "run-lint", Payload: map[string]any{"project": p.Name}, DependsOn: []string{"fetch"}},
		jobflow.Task{ID: "report", Kind: "send-email", Payload: map[string]any{
			"to":      "team@example.com",
			"subject": p.Name + " checks passed",
		}, DependsOn: []string{"lint"}},
	)
	if err != nil {
		return jobflow.Result{}, jobflow.NoRetry(err)
	}
	scope.Logger.Info("expanding project", "project", p.Name, "tasks", g.Len())
	return jobflow.Continue(g), nil
}

func runStep(name string) func(context.Context, *registry.Scope, step) (jobflow.Result, error) {
	return func(ctx context.Context, scope *registry.Scope, s step) (jobflow.Result, error) {
		scope.Logger.Info("running step", "step", name, "project", s.Project, "task_id", s.TaskID)
		return jobflow.Terminal(map[string]string{"step": name, "project": s.Project}), nil
	}
}

func demoRegistry() (*jobflow.Registry, error) {
	return jobflow.NewRegistry(
		jobflow.Bind("send-email", jobflow.Func(sendEmail)),
		jobflow.Bind("expand-project", jobflow.Func(expandProject)),
		jobflow.Bind("fetch-repo", jobflow.Func(runStep("fetch"))),
		jobflow.Bind("run-lint", jobflow.Func(runStep("lint"))),
	)
}
