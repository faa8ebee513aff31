package consolidate

import (
	"bytes"
	"context"
	"encoding/json"
	"strings"

	"go.uber.org/zap"

	"github.com/sokinpui/coda/internal/fs"
	"github.com/sokinpui/coda/internal/llm"
	"github.com/sokinpui/coda/internal/parser"
	"github.com/sokinpui/coda/model"
)

// Analysis is the validated plan returned by the Analyzer.
type Analysis struct {
	Operations []model.FileOperation
	Groups     []model.OperationGroup
}

// Operation returns the planned operation for path.
func (a Analysis) Operation(path string) (model.FileOperation, bool) {
	for _, op := range a.Operations {
		if op.FilePath == path {
			return op, true
		}
	}
	return model.FileOperation{}, false
}

// Analyzer asks the model which files must change.
type Analyzer struct {
	client llm.Client
	logger *zap.Logger
}

// NewAnalyzer creates an Analyzer.
func NewAnalyzer(client llm.Client, logger *zap.Logger) *Analyzer {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Analyzer{client: client, logger: logger.Named("analyzer")}
}

// Analyze sends the code and conversation to the model and parses its plan.
func (a *Analyzer) Analyze(ctx context.Context, req Request) (Analysis, error) {
	reply, err := a.client.Complete(ctx, []llm.Message{
		llm.System(analysisSystemPrompt),
		llm.User(analysisPrompt(req)),
	})
	if err != nil {
		return Analysis{}, err
	}
	analysis, err := ParseAnalysis(reply)
	if err != nil {
		return Analysis{}, err
	}
	a.logger.Info("analysis parsed",
		zap.Int("operations", len(analysis.Operations)),
		zap.Int("groups", len(analysis.Groups)))
	return analysis, nil
}

// extractJSON unwraps a fenced block and trims any prose around the outermost object.
func extractJSON(reply string) []byte {
	text := strings.TrimSpace(parser.UnwrapFence(reply))
	if start, end := strings.Index(text, "{"), strings.LastIndex(text, "}"); start >= 0 && end > start {
		text = text[start : end+1]
	}
	return []byte(text)
}

type rawOperation struct {
	FilePath *string `json:"filePath"`
	Action   *string `json:"action"`
}

// ParseAnalysis validates the model's analysis reply. Paths are normalized,
// duplicates are merged with DELETE taking precedence, and groups are reduced
// to known CREATE/MODIFY paths, each listed once.
func ParseAnalysis(reply string) (Analysis, error) {
	data := extractJSON(reply)
	var doc map[string]json.RawMessage
	if err := json.Unmarshal(data, &doc); err != nil {
		return Analysis{}, protocolError(StageAnalyzing, reply, "reply is not a JSON object: %v", err)
	}

	rawOps, ok := doc["operations"]
	if !ok || !isJSONArray(rawOps) {
		return Analysis{}, protocolError(StageAnalyzing, reply, `"operations" must be an array`)
	}
	var items []json.RawMessage
	if err := json.Unmarshal(rawOps, &items); err != nil {
		return Analysis{}, protocolError(StageAnalyzing, reply, `"operations" must be an array: %v`, err)
	}

	var out Analysis
	index := make(map[string]int)
	for i, item := range items {
		var raw rawOperation
		if err := json.Unmarshal(item, &raw); err != nil {
			return Analysis{}, protocolError(StageAnalyzing, reply, "operation %d is not an object: %v", i, err)
		}
		if raw.FilePath == nil || strings.TrimSpace(*raw.FilePath) == "" {
			return Analysis{}, protocolError(StageAnalyzing, reply, "operation %d has no filePath", i)
		}
		if raw.Action == nil {
			return Analysis{}, protocolError(StageAnalyzing, reply, "operation %d has no action", i)
		}
		action, ok := model.ParseAction(*raw.Action)
		if !ok {
			return Analysis{}, protocolError(StageAnalyzing, reply, "operation %d has unknown action %q", i, *raw.Action)
		}
		path, err := fs.NormalizePath(*raw.FilePath)
		if err != nil {
			return Analysis{}, protocolError(StageAnalyzing, reply, "operation %d: %v", i, err)
		}

		if at, seen := index[path]; seen {
			if action == model.ActionDelete {
				out.Operations[at].Action = model.ActionDelete
			}
			continue
		}
		index[path] = len(out.Operations)
		out.Operations = append(out.Operations, model.FileOperation{FilePath: path, Action: action})
	}

	rawGroups, ok := doc["groups"]
	if !ok || bytes.Equal(bytes.TrimSpace(rawGroups), []byte("null")) {
		return out, nil
	}
	if !isJSONArray(rawGroups) {
		return Analysis{}, protocolError(StageAnalyzing, reply, `"groups" must be an array`)
	}
	var groups [][]string
	if err := json.Unmarshal(rawGroups, &groups); err != nil {
		return Analysis{}, protocolError(StageAnalyzing, reply, `"groups" must be an array of path arrays: %v`, err)
	}
	grouped := make(map[string]bool)
	for _, g := range groups {
		var group model.OperationGroup
		for _, p := range g {
			path, err := fs.NormalizePath(p)
			if err != nil {
				return Analysis{}, protocolError(StageAnalyzing, reply, "group path %q: %v", p, err)
			}
			at, known := index[path]
			if !known || grouped[path] || out.Operations[at].Action == model.ActionDelete {
				continue
			}
			grouped[path] = true
			group = append(group, path)
		}
		if len(group) > 0 {
			out.Groups = append(out.Groups, group)
		}
	}
	return out, nil
}

func isJSONArray(raw json.RawMessage) bool {
	trimmed := bytes.TrimSpace(raw)
	return len(trimmed) > 0 && trimmed[0] == '['
}

// Plan returns the generation batches: the analysis groups followed by one
// group with every remaining CREATE/MODIFY path in operation order.
func (a Analysis) Plan() []model.OperationGroup {
	inGroup := make(map[string]bool)
	var plan []model.OperationGroup
	for _, g := range a.Groups {
		plan = append(plan, g)
		for _, p := range g {
			inGroup[p] = true
		}
	}
	var rest model.OperationGroup
	for _, op := range a.Operations {
		if op.Action != model.ActionDelete && !inGroup[op.FilePath] {
			rest = append(rest, op.FilePath)
		}
	}
	if len(rest) > 0 {
		plan = append(plan, rest)
	}
	return plan
}
