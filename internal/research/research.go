// Package research implements Penny's research agent: the background
// agent that advances one in-progress multi-iteration research task per
// cycle, grounded on
// original_source/penny/penny/agents/research.py's ResearchAgent, adapted
// from a dedicated always-polling asyncio task to a scheduler.Agent in the
// same Store/Sender/Cfg shape as internal/notification, reusing
// internal/agent's tool-calling loop for each iteration's search step
// rather than re-implementing it (spec.md §4.7).
package research

import (
	"context"
	"fmt"
	"sort"
	"strings"
	"time"

	"github.com/rs/zerolog"

	"github.com/jaredlockhart/penny/internal/agent"
	"github.com/jaredlockhart/penny/internal/channel"
	"github.com/jaredlockhart/penny/internal/config"
	"github.com/jaredlockhart/penny/internal/llm"
	"github.com/jaredlockhart/penny/internal/store"
	"github.com/jaredlockhart/penny/internal/tools"
)

const beginPrompt = "Begin researching this topic. Search for current, relevant information and summarize what you find."

const followupPrompt = "Continue researching this topic. Run another search to find information not already covered by the report draft below, then summarize what you found."

const reportBuildInstructions = "You are assembling an incremental research report from iterative search results. Merge the new findings into the existing draft: keep everything already covered, and add only genuinely new material under clear headings. Write plain prose with no meta-commentary about the merge itself."

const truncatedSuffix = "\n\n[report truncated at maximum length]"

const sourcesHeading = "\n\n## Sources\n"

// Agent is the research background agent. task.Focus doubles as both the
// original topic and any later-supplied report-format guidance: the store
// schema (spec.md §3) keeps one free-text field rather than the original's
// separate topic/focus columns, since nothing in scope ever sets them to
// different values (the clarifying-question command surface is out of
// scope, same as internal/profile's slash-command surface).
type Agent struct {
	Store *store.Store
	// Runner drives one iteration's search-and-summarize step through the
	// same tool-calling loop the foreground message agent uses.
	Runner *agent.Agent
	// ReportLLM merges each iteration's raw findings into the running
	// report draft.
	ReportLLM llm.Provider
	Sender    channel.Sender
	Cfg       config.Config
	Log       zerolog.Logger
}

// New constructs an Agent. Runner and Sender may be nil, in which case
// Execute degrades to marking any active task failed rather than silently
// stalling it forever; a nil ReportLLM makes each iteration append its
// findings to the draft instead of merging them.
func New(st *store.Store, runner *agent.Agent, reportLLM llm.Provider, sender channel.Sender, cfg config.Config, log zerolog.Logger) *Agent {
	return &Agent{Store: st, Runner: runner, ReportLLM: reportLLM, Sender: sender, Cfg: cfg, Log: log.With().Str("agent", "research").Logger()}
}

// Name identifies this agent to the scheduler.
func (a *Agent) Name() string { return "research" }

// Execute advances the oldest in-progress research task by one iteration,
// or completes it once max_iterations is reached (spec.md §4.7).
func (a *Agent) Execute(ctx context.Context) (bool, error) {
	if err := a.autoStartTimedOutFocus(ctx); err != nil {
		a.Log.Warn().Err(err).Msg("focus-timeout sweep failed")
	}

	task, ok, err := a.oldestInProgressTask(ctx)
	if err != nil {
		return false, err
	}
	if !ok {
		return false, nil
	}

	iterations, err := a.Store.IterationsForTask(ctx, task.ID)
	if err != nil {
		return false, err
	}

	if len(iterations) >= task.MaxIterations {
		return true, a.complete(ctx, task, iterations)
	}

	return a.runIteration(ctx, task, iterations)
}

// autoStartTimedOutFocus transitions any awaiting_focus task past its
// focus deadline straight to in_progress, so an unanswered focus prompt
// does not block research forever (spec.md §4.7 "A focus-wait timeout
// auto-advances to in_progress").
func (a *Agent) autoStartTimedOutFocus(ctx context.Context) error {
	tasks, err := a.Store.AwaitingFocusResearchTasks(ctx)
	if err != nil {
		return err
	}

	now := time.Now()
	for _, t := range tasks {
		deadline := t.CreatedAt.Add(a.focusTimeout())
		if t.FocusDeadline != nil {
			deadline = *t.FocusDeadline
		}
		if now.Before(deadline) {
			continue
		}
		if err := a.Store.SetResearchFocus(ctx, t.ID, t.Focus); err != nil {
			return err
		}
		a.Log.Info().Int64("task_id", t.ID).Msg("research task auto-started after focus timeout")
	}
	return nil
}

func (a *Agent) focusTimeout() time.Duration {
	d := a.Cfg.Timings.ResearchFocusTimeout
	if d <= 0 {
		d = 10 * time.Minute
	}
	return d
}

// oldestInProgressTask finds the task the agent should advance this cycle
// (spec.md §4.7 "finds the oldest in-progress task").
func (a *Agent) oldestInProgressTask(ctx context.Context) (store.ResearchTask, bool, error) {
	tasks, err := a.Store.InProgressResearchTasks(ctx)
	if err != nil {
		return store.ResearchTask{}, false, err
	}
	if len(tasks) == 0 {
		return store.ResearchTask{}, false, nil
	}

	sort.Slice(tasks, func(i, j int) bool {
		return tasks[i].CreatedAt.Before(tasks[j].CreatedAt)
	})
	return tasks[0], true, nil
}

// runIteration runs one search-and-merge step and stores it.
func (a *Agent) runIteration(ctx context.Context, task store.ResearchTask, iterations []store.ResearchIteration) (bool, error) {
	if a.Runner == nil {
		a.Log.Warn().Int64("task_id", task.ID).Msg("no runner configured, failing task")
		return false, a.fail(ctx, task, "no research runner configured")
	}

	current := len(iterations)
	var currentReport string
	if current > 0 {
		currentReport = iterations[current-1].ReportFragment
	}

	req := agent.Request{
		System:      a.historyContext(task, iterations),
		UserMessage: iterationPrompt(current),
	}
	result := a.Runner.Run(tools.WithUser(ctx, task.User), req)
	if strings.TrimSpace(result.Text) == "" {
		a.Log.Warn().Int64("task_id", task.ID).Msg("research iteration returned empty response")
		return false, a.fail(ctx, task, "empty response from model")
	}

	sources := extractSources(result.Text)
	report := a.buildReport(ctx, task, result.Text, currentReport)

	if _, err := a.Store.InsertResearchIteration(ctx, store.ResearchIteration{
		TaskID:         task.ID,
		Iteration:      current + 1,
		Query:          fmt.Sprintf("Iteration %d", current+1),
		Sources:        sources,
		ReportFragment: report,
	}); err != nil {
		return false, err
	}

	if err := a.Store.AdvanceResearchIteration(ctx, task.ID, report); err != nil {
		return false, err
	}

	a.Log.Info().Int64("task_id", task.ID).Int("iteration", current+1).Int("max", task.MaxIterations).Msg("completed research iteration")
	return true, nil
}

// historyContext builds the system context the runner sees, mirroring the
// original's _build_history: focus, prior queries, current draft.
func (a *Agent) historyContext(task store.ResearchTask, iterations []store.ResearchIteration) string {
	var b strings.Builder
	fmt.Fprintf(&b, "Research topic: %s", task.Focus)

	var queries []string
	for _, it := range iterations {
		if it.Query != "" {
			queries = append(queries, it.Query)
		}
	}
	if len(queries) > 0 {
		b.WriteString("\nPrevious searches: " + strings.Join(queries, ", "))
	}

	if len(iterations) > 0 {
		fmt.Fprintf(&b, "\n\nCurrent report draft:\n%s", iterations[len(iterations)-1].ReportFragment)
	}

	return b.String()
}

func iterationPrompt(current int) string {
	if current == 0 {
		return beginPrompt
	}
	return followupPrompt
}

// buildReport merges new findings into the running draft via ReportLLM,
// falling back to straight concatenation when no model is configured.
func (a *Agent) buildReport(ctx context.Context, task store.ResearchTask, findings, currentReport string) string {
	if a.ReportLLM == nil {
		if currentReport == "" {
			return findings
		}
		return currentReport + "\n\n" + findings
	}

	var b strings.Builder
	fmt.Fprintf(&b, "%s\n\nResearch topic: %s", reportBuildInstructions, task.Focus)
	if currentReport != "" {
		fmt.Fprintf(&b, "\n\nExisting report draft:\n\n%s", currentReport)
	}
	fmt.Fprintf(&b, "\n\nNew search results:\n\n%s", findings)

	result, err := a.ReportLLM.Generate(ctx, b.String(), nil, nil)
	if err != nil {
		a.Log.Warn().Err(err).Int64("task_id", task.ID).Msg("report build call failed, falling back to concatenation")
		if currentReport == "" {
			return findings
		}
		return currentReport + "\n\n" + findings
	}
	return strings.TrimSpace(result.Content)
}

// extractSources pulls bare URLs out of a response's lines, the same
// heuristic the original's _extract_sources uses.
func extractSources(content string) []string {
	var out []string
	for _, line := range strings.Split(content, "\n") {
		line = strings.TrimSpace(line)
		if strings.HasPrefix(line, "http://") || strings.HasPrefix(line, "https://") {
			out = append(out, line)
		}
	}
	return out
}

// complete posts the finished report to the thread and marks the task
// done (spec.md §4.7 "when max_iterations is reached emits a final
// report to the thread").
func (a *Agent) complete(ctx context.Context, task store.ResearchTask, iterations []store.ResearchIteration) error {
	if a.Sender == nil {
		a.Log.Warn().Int64("task_id", task.ID).Msg("no sender configured, failing task")
		return a.fail(ctx, task, "no sender configured")
	}

	report := ""
	if len(iterations) > 0 {
		report = iterations[len(iterations)-1].ReportFragment
	}

	seen := make(map[string]bool)
	var sources []string
	for _, it := range iterations {
		for _, s := range it.Sources {
			if !seen[s] {
				seen[s] = true
				sources = append(sources, s)
			}
		}
	}
	if len(sources) > 0 {
		sort.Strings(sources)
		report += sourcesHeading
		for _, s := range sources {
			report += s + "\n"
		}
	}

	maxLength := a.Cfg.Thresholds.ResearchOutputMaxLength
	if maxLength <= 0 {
		maxLength = 4000
	}
	if len(report) > maxLength {
		cut := maxLength - len(truncatedSuffix)
		if cut < 0 {
			cut = 0
		}
		report = report[:cut] + truncatedSuffix
	}

	_, sendErr := a.Sender.SendMessage(ctx, task.User, report, nil, "")
	if sendErr != nil {
		return fmt.Errorf("research: send report: %w", sendErr)
	}

	return a.Store.CompleteResearchTask(ctx, task.ID, report)
}

// fail marks a task failed without sending anything (spec.md §7 "The
// research agent's failed tasks are marked with status failed and do not
// block the thread's next pending task").
func (a *Agent) fail(ctx context.Context, task store.ResearchTask, reason string) error {
	if err := a.Store.FailResearchTask(ctx, task.ID, reason); err != nil {
		return err
	}
	a.Log.Error().Int64("task_id", task.ID).Str("reason", reason).Msg("research task failed")
	return nil
}
