package mcp

import (
	"context"
	"fmt"
	"strings"
	"time"

	"github.com/google/uuid"

	"github.com/sapience/langsmith-mcp/internal/langsmith"
)

const (
	monitorCacheTTL = time.Minute
	reportCacheTTL  = 5 * time.Minute
	queryWindow     = 30 * 24 * time.Hour
)

// registerTools declares the tool catalog. Adding a tool means adding an
// entry here, not a new branch in the dispatcher.
func (s *Server) registerTools() {
	s.registry.Register(Tool{
		Name:        "trace_sapience_workflow",
		Description: "Trace a SAPience ML workflow execution",
		InputSchema: ToolInputSchema{
			Type: "object",
			Properties: map[string]interface{}{
				"workflow_name": map[string]interface{}{
					"type":        "string",
					"description": "Name of the workflow (monthly_forecast, anomaly_detection, etc.)",
				},
				"session_id": map[string]interface{}{
					"type":        "string",
					"description": "Session ID for grouping related traces; generated when omitted",
				},
				"metadata": map[string]interface{}{
					"type":        "object",
					"description": "Additional metadata (company_code, period, etc.)",
				},
			},
			Required: []string{"workflow_name"},
		},
	}, s.handleTraceWorkflow)

	s.registry.Register(Tool{
		Name:        "log_ml_prediction",
		Description: "Log ML prediction results",
		InputSchema: ToolInputSchema{
			Type: "object",
			Properties: map[string]interface{}{
				"model_name": map[string]interface{}{
					"type":        "string",
					"description": "ML model name (pup_predictor, anomaly_detector, etc.)",
				},
				"prediction": map[string]interface{}{
					"type":        "object",
					"description": "Prediction payload to record",
				},
				"metadata": map[string]interface{}{
					"type":        "object",
					"description": "Additional metadata",
				},
			},
			Required: []string{"model_name", "prediction"},
		},
	}, s.handleLogPrediction)

	s.registry.Register(Tool{
		Name:        "evaluate_ml_predictions",
		Description: "Evaluate ML model performance using LangSmith",
		InputSchema: ToolInputSchema{
			Type: "object",
			Properties: map[string]interface{}{
				"model_name": map[string]interface{}{
					"type":        "string",
					"description": "ML model name (pup_predictor, anomaly_detector, etc.)",
				},
				"dataset_name": map[string]interface{}{
					"type":        "string",
					"description": "Evaluation dataset name",
				},
				"metrics": map[string]interface{}{
					"type":        "array",
					"items":       map[string]interface{}{"type": "string"},
					"description": "Metrics to evaluate (mape, rmse, f1_score, etc.)",
				},
			},
			Required: []string{"model_name", "dataset_name"},
		},
	}, s.handleEvaluatePredictions)

	s.registry.Register(Tool{
		Name:        "optimize_claude_prompts",
		Description: "Optimize Claude prompts for SAP analysis using LangSmith",
		InputSchema: ToolInputSchema{
			Type: "object",
			Properties: map[string]interface{}{
				"prompt_template": map[string]interface{}{
					"type":        "string",
					"description": "Current prompt template to optimize",
				},
				"use_case": map[string]interface{}{
					"type":        "string",
					"description": "Use case (anomaly_explanation, forecast_summary, etc.)",
				},
				"test_examples": map[string]interface{}{
					"type":        "array",
					"description": "Test examples for evaluation",
				},
			},
			Required: []string{"prompt_template", "use_case"},
		},
	}, s.handleOptimizePrompts)

	s.registry.Register(Tool{
		Name:        "create_sap_dataset",
		Description: "Create LangSmith dataset from SAP data for ML evaluation",
		InputSchema: ToolInputSchema{
			Type: "object",
			Properties: map[string]interface{}{
				"dataset_name": map[string]interface{}{
					"type":        "string",
					"description": "Name for the new dataset",
				},
				"sap_data_source": map[string]interface{}{
					"type":        "string",
					"description": "SAP data source (ACDOCA, MBEW, CKML, etc.)",
				},
				"company_codes": map[string]interface{}{
					"type":        "array",
					"items":       map[string]interface{}{"type": "string"},
					"description": "Company codes to include",
				},
				"period_range": map[string]interface{}{
					"type":        "object",
					"description": "Date range for data extraction",
				},
			},
			Required: []string{"dataset_name", "sap_data_source"},
		},
	}, s.handleCreateDataset)

	s.registry.Register(Tool{
		Name:        "monitor_sapience_performance",
		Description: "Monitor real-time performance of SAPience ML pipelines",
		InputSchema: ToolInputSchema{
			Type: "object",
			Properties: map[string]interface{}{
				"time_range": map[string]interface{}{
					"type":        "string",
					"description": "Time range for monitoring (1h, 24h, 7d, 30d)",
				},
				"components": map[string]interface{}{
					"type":        "array",
					"items":       map[string]interface{}{"type": "string"},
					"description": "Components to monitor (ml_models, claude_copilot, n8n_workflows)",
				},
			},
			Required: []string{"time_range"},
		},
	}, s.handleMonitorPerformance)

	s.registry.Register(Tool{
		Name:        "generate_langsmith_report",
		Description: "Generate comprehensive LangSmith analytics report for SAPience",
		InputSchema: ToolInputSchema{
			Type: "object",
			Properties: map[string]interface{}{
				"report_type": map[string]interface{}{
					"type":        "string",
					"enum":        []interface{}{"performance", "quality", "usage", "comprehensive"},
					"description": "Type of report to generate",
				},
				"period": map[string]interface{}{
					"type":        "string",
					"description": "Reporting period (weekly, monthly, quarterly)",
				},
				"include_recommendations": map[string]interface{}{
					"type":        "boolean",
					"description": "Include derived recommendations",
				},
			},
			Required: []string{"report_type"},
		},
	}, s.handleGenerateReport)
}

// handleTraceWorkflow starts a new trace for a workflow run. Each call opens
// a fresh session unless the caller supplies one.
func (s *Server) handleTraceWorkflow(ctx context.Context, args map[string]interface{}) (interface{}, error) {
	workflowName := args["workflow_name"].(string)
	sessionID, _ := args["session_id"].(string)
	if sessionID == "" {
		sessionID = fmt.Sprintf("sapience_%s_%s", workflowName, uuid.NewString()[:8])
	}
	metadata, _ := args["metadata"].(map[string]interface{})

	run, err := s.client.CreateRun(ctx, langsmith.RunCreate{
		ID:      uuid.NewString(),
		Name:    workflowName,
		RunType: "chain",
		Inputs: map[string]interface{}{
			"metadata": metadata,
		},
		Extra: map[string]interface{}{
			"session_id": sessionID,
			"platform":   "sapience",
		},
	})
	if err != nil {
		return nil, fmt.Errorf("create trace run: %w", err)
	}

	return map[string]interface{}{
		"success":    true,
		"session_id": sessionID,
		"run_id":     run.ID,
		"trace_url":  fmt.Sprintf("%s/projects/%s/runs/%s", langsmith.WebBaseURL, s.config.Project, run.ID),
	}, nil
}

// handleLogPrediction records one model prediction as an llm-type run.
func (s *Server) handleLogPrediction(ctx context.Context, args map[string]interface{}) (interface{}, error) {
	modelName := args["model_name"].(string)
	metadata, _ := args["metadata"].(map[string]interface{})

	run, err := s.client.CreateRun(ctx, langsmith.RunCreate{
		Name:    "ml_prediction_" + modelName,
		RunType: "llm",
		Inputs: map[string]interface{}{
			"model":    modelName,
			"metadata": metadata,
		},
		Outputs: map[string]interface{}{
			"prediction": args["prediction"],
		},
	})
	if err != nil {
		return nil, fmt.Errorf("log prediction: %w", err)
	}

	return map[string]interface{}{
		"success":   true,
		"run_id":    run.ID,
		"logged_at": time.Now().UTC().Format(time.RFC3339),
	}, nil
}

// handleEvaluatePredictions aggregates recorded prediction runs for a model
// and records the evaluation itself as a run.
func (s *Server) handleEvaluatePredictions(ctx context.Context, args map[string]interface{}) (interface{}, error) {
	modelName := args["model_name"].(string)
	datasetName := args["dataset_name"].(string)
	metrics := stringSlice(args["metrics"])
	if len(metrics) == 0 {
		metrics = []string{"mape", "rmse"}
	}

	runs, err := s.client.QueryRuns(ctx, langsmith.RunQuery{
		Project:   s.config.Project,
		RunType:   "llm",
		StartTime: time.Now().UTC().Add(-queryWindow),
		Limit:     500,
	})
	if err != nil {
		return nil, fmt.Errorf("query prediction runs: %w", err)
	}

	var modelRuns []langsmith.Run
	for _, run := range runs {
		if run.Name == "ml_prediction_"+modelName {
			modelRuns = append(modelRuns, run)
		}
	}
	stats := summarizeRuns(modelRuns)

	evalRun, err := s.client.CreateRun(ctx, langsmith.RunCreate{
		Name:    "evaluate_" + modelName,
		RunType: "chain",
		Inputs: map[string]interface{}{
			"model_name":   modelName,
			"dataset_name": datasetName,
			"metrics":      metrics,
		},
		Outputs: map[string]interface{}{
			"run_count":      stats.total,
			"error_rate":     stats.errorRate(),
			"avg_latency_ms": stats.avgLatencyMS,
		},
	})
	if err != nil {
		return nil, fmt.Errorf("record evaluation: %w", err)
	}

	return map[string]interface{}{
		"model_name":        modelName,
		"dataset_name":      datasetName,
		"metrics":           metrics,
		"run_count":         stats.total,
		"error_rate":        stats.errorRate(),
		"avg_latency_ms":    stats.avgLatencyMS,
		"evaluation_run_id": evalRun.ID,
		"results_url":       fmt.Sprintf("%s/projects/%s/evaluations", langsmith.WebBaseURL, s.config.Project),
	}, nil
}

// handleOptimizePrompts submits a prompt optimization run. The optimization
// itself is performed remotely; this records the inputs and hands back the
// trace reference.
func (s *Server) handleOptimizePrompts(ctx context.Context, args map[string]interface{}) (interface{}, error) {
	promptTemplate := args["prompt_template"].(string)
	useCase := args["use_case"].(string)
	testExamples, _ := args["test_examples"].([]interface{})

	run, err := s.client.CreateRun(ctx, langsmith.RunCreate{
		Name:    "prompt_optimization_" + useCase,
		RunType: "chain",
		Inputs: map[string]interface{}{
			"prompt_template":    promptTemplate,
			"use_case":           useCase,
			"test_example_count": len(testExamples),
		},
	})
	if err != nil {
		return nil, fmt.Errorf("submit prompt optimization: %w", err)
	}

	return map[string]interface{}{
		"success":      true,
		"run_id":       run.ID,
		"use_case":     useCase,
		"trace_url":    fmt.Sprintf("%s/projects/%s/runs/%s", langsmith.WebBaseURL, s.config.Project, run.ID),
		"submitted_at": time.Now().UTC().Format(time.RFC3339),
	}, nil
}

// handleCreateDataset creates a dataset from an SAP data source.
func (s *Server) handleCreateDataset(ctx context.Context, args map[string]interface{}) (interface{}, error) {
	datasetName := args["dataset_name"].(string)
	source := args["sap_data_source"].(string)
	companyCodes := stringSlice(args["company_codes"])

	ds, err := s.client.CreateDataset(ctx, langsmith.DatasetCreate{
		Name:        datasetName,
		Description: fmt.Sprintf("SAP %s extract for ML evaluation", source),
		DataType:    "kv",
	})
	if err != nil {
		return nil, fmt.Errorf("create dataset: %w", err)
	}

	return map[string]interface{}{
		"success":         true,
		"dataset_id":      ds.ID,
		"dataset_name":    ds.Name,
		"sap_data_source": source,
		"company_codes":   companyCodes,
		"dataset_url":     fmt.Sprintf("%s/projects/%s/datasets/%s", langsmith.WebBaseURL, s.config.Project, ds.Name),
	}, nil
}

// handleMonitorPerformance aggregates run statistics over a time range.
// Results are cached briefly since monitoring is typically polled.
func (s *Server) handleMonitorPerformance(ctx context.Context, args map[string]interface{}) (interface{}, error) {
	timeRange := args["time_range"].(string)
	window, err := parseTimeRange(timeRange)
	if err != nil {
		return nil, err
	}
	components := stringSlice(args["components"])
	if len(components) == 0 {
		components = []string{"ml_models", "claude_copilot", "n8n_workflows"}
	}

	cacheKey := "monitor:" + timeRange + ":" + strings.Join(components, ",")
	if cached, ok := s.cache.Get(cacheKey); ok {
		return cached, nil
	}

	runs, err := s.client.QueryRuns(ctx, langsmith.RunQuery{
		Project:   s.config.Project,
		StartTime: time.Now().UTC().Add(-window),
		Limit:     1000,
	})
	if err != nil {
		return nil, fmt.Errorf("query runs: %w", err)
	}

	stats := summarizeRuns(runs)
	runsByType := make(map[string]int)
	for _, run := range runs {
		runsByType[run.RunType]++
	}

	result := map[string]interface{}{
		"time_range":     timeRange,
		"components":     components,
		"run_count":      stats.total,
		"error_count":    stats.errored,
		"error_rate":     stats.errorRate(),
		"avg_latency_ms": stats.avgLatencyMS,
		"runs_by_type":   runsByType,
		"generated_at":   time.Now().UTC().Format(time.RFC3339),
	}
	s.cache.Set(cacheKey, result, monitorCacheTTL)
	return result, nil
}

// handleGenerateReport builds an analytics report over a reporting period.
func (s *Server) handleGenerateReport(ctx context.Context, args map[string]interface{}) (interface{}, error) {
	reportType := args["report_type"].(string)
	switch reportType {
	case "performance", "quality", "usage", "comprehensive":
	default:
		return nil, fmt.Errorf("%w: unsupported report_type %q (want performance, quality, usage or comprehensive)", ErrInvalidArguments, reportType)
	}

	period, _ := args["period"].(string)
	if period == "" {
		period = "monthly"
	}
	var window time.Duration
	switch period {
	case "weekly":
		window = 7 * 24 * time.Hour
	case "monthly":
		window = 30 * 24 * time.Hour
	case "quarterly":
		window = 90 * 24 * time.Hour
	default:
		return nil, fmt.Errorf("%w: unsupported period %q (want weekly, monthly or quarterly)", ErrInvalidArguments, period)
	}

	includeRecommendations := true
	if v, ok := args["include_recommendations"].(bool); ok {
		includeRecommendations = v
	}

	cacheKey := "report:" + reportType + ":" + period
	if cached, ok := s.cache.Get(cacheKey); ok {
		return cached, nil
	}

	runs, err := s.client.QueryRuns(ctx, langsmith.RunQuery{
		Project:   s.config.Project,
		StartTime: time.Now().UTC().Add(-window),
		Limit:     1000,
	})
	if err != nil {
		return nil, fmt.Errorf("query runs: %w", err)
	}

	stats := summarizeRuns(runs)
	runsByType := make(map[string]int)
	for _, run := range runs {
		runsByType[run.RunType]++
	}

	sections := make(map[string]interface{})
	if reportType == "performance" || reportType == "comprehensive" {
		sections["performance"] = map[string]interface{}{
			"run_count":      stats.total,
			"avg_latency_ms": stats.avgLatencyMS,
		}
	}
	if reportType == "quality" || reportType == "comprehensive" {
		sections["quality"] = map[string]interface{}{
			"error_count": stats.errored,
			"error_rate":  stats.errorRate(),
		}
	}
	if reportType == "usage" || reportType == "comprehensive" {
		sections["usage"] = map[string]interface{}{
			"runs_by_type": runsByType,
		}
	}

	reportID := uuid.NewString()
	result := map[string]interface{}{
		"report_id":    reportID,
		"report_type":  reportType,
		"period":       period,
		"run_count":    stats.total,
		"sections":     sections,
		"report_url":   fmt.Sprintf("%s/projects/%s/reports/%s", langsmith.WebBaseURL, s.config.Project, reportID),
		"generated_at": time.Now().UTC().Format(time.RFC3339),
	}
	if includeRecommendations {
		result["recommendations"] = buildRecommendations(stats)
	}
	s.cache.Set(cacheKey, result, reportCacheTTL)
	return result, nil
}

// runStats is an aggregate over a set of runs.
type runStats struct {
	total        int
	errored      int
	avgLatencyMS float64
}

func (st runStats) errorRate() float64 {
	if st.total == 0 {
		return 0
	}
	return float64(st.errored) / float64(st.total)
}

func summarizeRuns(runs []langsmith.Run) runStats {
	stats := runStats{total: len(runs)}
	var totalLatency time.Duration
	var completed int
	for _, run := range runs {
		if run.Error != "" || run.Status == "error" {
			stats.errored++
		}
		if run.EndTime != nil {
			totalLatency += run.EndTime.Sub(run.StartTime)
			completed++
		}
	}
	if completed > 0 {
		stats.avgLatencyMS = float64(totalLatency.Milliseconds()) / float64(completed)
	}
	return stats
}

func buildRecommendations(stats runStats) []string {
	var recs []string
	if stats.total == 0 {
		recs = append(recs, "No runs recorded in this period; verify workflows are instrumented.")
		return recs
	}
	if stats.errorRate() > 0.05 {
		recs = append(recs, fmt.Sprintf("Error rate is %.1f%%; investigate failing runs.", stats.errorRate()*100))
	}
	if stats.avgLatencyMS > 5000 {
		recs = append(recs, "Average latency exceeds 5s; review slow pipeline stages.")
	}
	if len(recs) == 0 {
		recs = append(recs, "Pipelines are healthy; no action needed.")
	}
	return recs
}

// parseTimeRange converts a monitoring range token to a duration.
func parseTimeRange(value string) (time.Duration, error) {
	switch value {
	case "1h":
		return time.Hour, nil
	case "24h":
		return 24 * time.Hour, nil
	case "7d":
		return 7 * 24 * time.Hour, nil
	case "30d":
		return 30 * 24 * time.Hour, nil
	default:
		return 0, fmt.Errorf("%w: unsupported time_range %q (want 1h, 24h, 7d or 30d)", ErrInvalidArguments, value)
	}
}

// stringSlice converts a decoded JSON array to []string, skipping
// non-string elements.
func stringSlice(value interface{}) []string {
	items, ok := value.([]interface{})
	if !ok {
		return nil
	}
	out := make([]string, 0, len(items))
	for _, item := range items {
		if s, ok := item.(string); ok {
			out = append(out, s)
		}
	}
	return out
}
