package service

import (
	"context"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/rs/zerolog"

	"github.com/noah-isme/exam-portal-api/internal/models"
	"github.com/noah-isme/exam-portal-api/internal/observability"
	dockerexec "github.com/noah-isme/exam-portal-api/pkg/docker"
)

const (
	sandboxWorkdir = "/workspace"
	inputFileName  = "input.txt"
)

// CodeRunnerConfig describes execution limits for coding answers.
type CodeRunnerConfig struct {
	ExecutionTimeout time.Duration
	MemoryLimitMB    int
	CPUShares        int
	WorkspaceRoot    string
}

// CodeRunner executes a coding answer against test cases.
type CodeRunner interface {
	Run(ctx context.Context, language, code string, testCases []models.CodingTestCase) (models.CodeExecution, error)
	Supports(language string) bool
}

type languageConfig struct {
	Image    string
	FileName string
	Compile  string
	Run      string
	Env      []string
}

type codeRunner struct {
	executor  dockerexec.Executor
	config    CodeRunnerConfig
	languages map[string]languageConfig
	logger    zerolog.Logger
}

// NewCodeRunner constructs a sandboxed runner on top of the container executor.
func NewCodeRunner(executor dockerexec.Executor, cfg CodeRunnerConfig, logger zerolog.Logger) CodeRunner {
	if cfg.WorkspaceRoot == "" {
		cfg.WorkspaceRoot = os.TempDir()
	}

	return &codeRunner{
		executor: executor,
		config:   cfg,
		logger:   logger.With().Str("component", "code_runner").Logger(),
		languages: map[string]languageConfig{
			"python": {
				Image:    "python:3.12-alpine",
				FileName: "main.py",
				Run:      "python main.py",
			},
			"javascript": {
				Image:    "node:20-alpine",
				FileName: "main.js",
				Run:      "node main.js",
			},
			"ruby": {
				Image:    "ruby:3.3-alpine",
				FileName: "main.rb",
				Run:      "ruby main.rb",
			},
			"php": {
				Image:    "php:8.3-cli-alpine",
				FileName: "main.php",
				Run:      "php main.php",
			},
			"go": {
				Image:    "golang:1.22-alpine",
				FileName: "main.go",
				Compile:  "go build -o main main.go",
				Run:      "./main",
				Env:      []string{"GOCACHE=/tmp/gocache", "HOME=/tmp", "CGO_ENABLED=0"},
			},
			"c": {
				Image:    "gcc:13",
				FileName: "main.c",
				Compile:  "gcc -O2 -o main main.c",
				Run:      "./main",
			},
			"cpp": {
				Image:    "gcc:13",
				FileName: "main.cpp",
				Compile:  "g++ -O2 -o main main.cpp",
				Run:      "./main",
			},
			"java": {
				Image:    "eclipse-temurin:21-jdk-alpine",
				FileName: "Main.java",
				Compile:  "javac Main.java",
				Run:      "java Main",
			},
		},
	}
}

func (r *codeRunner) Supports(language string) bool {
	_, ok := r.languages[normalizeLanguage(language)]
	return ok
}

// Run compiles once when the language needs it, then runs every test case in a fresh container.
func (r *codeRunner) Run(ctx context.Context, language, code string, testCases []models.CodingTestCase) (models.CodeExecution, error) {
	language = normalizeLanguage(language)
	langCfg, ok := r.languages[language]
	if !ok {
		return models.CodeExecution{}, ErrUnsupportedLanguage
	}

	execution := models.CodeExecution{
		Code:           code,
		Language:       language,
		Results:        make([]models.TestCaseResult, 0, len(testCases)),
		TotalTestCases: len(testCases),
	}

	workspace, err := os.MkdirTemp(r.config.WorkspaceRoot, "exam-run-")
	if err != nil {
		return models.CodeExecution{}, fmt.Errorf("create workspace: %w", err)
	}
	defer os.RemoveAll(workspace)

	if err := os.WriteFile(filepath.Join(workspace, langCfg.FileName), []byte(code), 0o644); err != nil {
		return models.CodeExecution{}, fmt.Errorf("write source: %w", err)
	}

	if langCfg.Compile != "" {
		result, execErr := r.executor.Run(ctx, r.request(langCfg, workspace, langCfg.Compile))
		if execErr != nil || result.ExitCode != 0 {
			execution.CompilationError = combineErrors(result.Stderr+result.Stdout, execErr)
			if execution.CompilationError == "" {
				execution.CompilationError = fmt.Sprintf("compiler exited with code %d", result.ExitCode)
			}
			for _, testCase := range testCases {
				execution.Results = append(execution.Results, models.TestCaseResult{
					Input:          testCase.Input,
					ExpectedOutput: testCase.ExpectedOutput,
					Error:          "compilation failed",
				})
			}
			observability.CodeRuns().WithLabelValues(language, "compile_error").Inc()
			return execution, nil
		}
	}

	for _, testCase := range testCases {
		if err := os.WriteFile(filepath.Join(workspace, inputFileName), []byte(testCase.Input), 0o644); err != nil {
			return models.CodeExecution{}, fmt.Errorf("write input: %w", err)
		}

		result, execErr := r.executor.Run(ctx, r.request(langCfg, workspace, langCfg.Run+" < "+inputFileName))
		caseResult := models.TestCaseResult{
			Input:          testCase.Input,
			ExpectedOutput: testCase.ExpectedOutput,
			ActualOutput:   result.Stdout,
			ExecutionTime:  result.Duration.Milliseconds(),
		}

		switch {
		case execErr != nil && result.TimedOut:
			caseResult.Error = "time limit exceeded"
		case execErr != nil:
			caseResult.Error = combineErrors(result.Stderr, execErr)
		case result.ExitCode != 0:
			caseResult.Error = combineErrors(result.Stderr, nil)
			if caseResult.Error == "" {
				caseResult.Error = fmt.Sprintf("process exited with code %d", result.ExitCode)
			}
		default:
			caseResult.Passed = outputsMatch(result.Stdout, testCase.ExpectedOutput)
		}

		if caseResult.Passed {
			execution.TotalTestCasesPassed++
		}
		execution.Results = append(execution.Results, caseResult)
	}

	outcome := "failed"
	if execution.TotalTestCases > 0 && execution.TotalTestCasesPassed == execution.TotalTestCases {
		outcome = "passed"
	}
	observability.CodeRuns().WithLabelValues(language, outcome).Inc()

	r.logger.Debug().
		Str("language", language).
		Int("passed", execution.TotalTestCasesPassed).
		Int("total", execution.TotalTestCases).
		Msg("coding answer executed")

	return execution, nil
}

func (r *codeRunner) request(langCfg languageConfig, workspace, command string) dockerexec.ExecutionRequest {
	return dockerexec.ExecutionRequest{
		Image:         langCfg.Image,
		Cmd:           []string{"sh", "-c", command},
		Env:           langCfg.Env,
		Timeout:       r.config.ExecutionTimeout,
		Workspace:     workspace,
		WorkingDir:    sandboxWorkdir,
		MemoryLimitMB: int64(r.config.MemoryLimitMB),
		CPUShares:     int64(r.config.CPUShares),
		ReadOnlyFS:    true,
	}
}

// maskHiddenCases blanks the input and outputs of hidden test cases. Pass/fail is kept.
func maskHiddenCases(execution models.CodeExecution, testCases []models.CodingTestCase) models.CodeExecution {
	masked := execution
	masked.Results = make([]models.TestCaseResult, len(execution.Results))
	copy(masked.Results, execution.Results)
	for i := range masked.Results {
		if i < len(testCases) && testCases[i].IsHidden {
			masked.Results[i].Input = ""
			masked.Results[i].ExpectedOutput = ""
			masked.Results[i].ActualOutput = ""
		}
	}
	return masked
}

func outputsMatch(actual, expected string) bool {
	normalize := func(value string) string {
		value = strings.ReplaceAll(value, "\r\n", "\n")
		lines := strings.Split(strings.TrimSpace(value), "\n")
		for i, line := range lines {
			lines[i] = strings.TrimRight(line, " \t")
		}
		return strings.Join(lines, "\n")
	}
	return normalize(actual) == normalize(expected)
}

func normalizeLanguage(language string) string {
	language = strings.ToLower(strings.TrimSpace(language))
	switch language {
	case "js", "node":
		return "javascript"
	case "py", "python3":
		return "python"
	case "c++":
		return "cpp"
	case "golang":
		return "go"
	}
	return language
}

func combineErrors(stderr string, execErr error) string {
	stderr = strings.TrimSpace(stderr)
	if execErr == nil {
		return stderr
	}
	if stderr == "" {
		return execErr.Error()
	}
	return stderr + "\n" + execErr.Error()
}
