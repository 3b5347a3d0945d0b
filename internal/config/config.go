// Package config loads the agent configuration from YAML and the
// credential set from the environment. The loaded Config is immutable
// for the duration of a run; core packages receive it (or slices of it)
// explicitly through their constructors.
package config

import (
	"fmt"
	"math"
	"os"

	"github.com/joho/godotenv"
	"gopkg.in/yaml.v3"

	"github.com/mritunjaysingh07/jira-duo-agent/internal/domain"
)

// Default tunables. Every value here can be overridden from the YAML file.
const (
	DefaultBaseBranch     = "main"
	DefaultJiraTimeout    = 30  // seconds
	DefaultGitLabTimeout  = 30  // seconds
	DefaultRefinerTimeout = 60  // seconds
	DefaultMaxTokens      = 2000
	DefaultModel          = "gpt-4o"
	DefaultLogFile        = "logs/agent.log"
)

// Config is the full application configuration.
type Config struct {
	Features FeaturesConfig `yaml:"features"`
	Prompts  PromptsConfig  `yaml:"prompts"`
	LLM      LLMConfig      `yaml:"llm"`
	Progress ProgressConfig `yaml:"progress"`
	Timeouts TimeoutsConfig `yaml:"timeouts"`
	Logging  LoggingConfig  `yaml:"logging"`
}

// FeaturesConfig groups the feature switches.
type FeaturesConfig struct {
	LLMRefinement LLMRefinementConfig `yaml:"llm_refinement"`
	GitLabDuo     GitLabDuoConfig     `yaml:"gitlab_duo"`
	Jira          JiraConfig          `yaml:"jira_integration"`
}

// LLMRefinementConfig controls the optional prompt-refinement capability.
type LLMRefinementConfig struct {
	Enabled        bool     `yaml:"enabled"`
	FallbackToBase bool     `yaml:"fallback_to_base"`
	PromptTypes    []string `yaml:"prompt_types"`
	Model          string   `yaml:"model"`
	Temperature    float64  `yaml:"temperature"`
	MaxTokens      int      `yaml:"max_tokens"`
}

// GitLabDuoConfig controls branch and merge-request creation.
type GitLabDuoConfig struct {
	DefaultBranch string   `yaml:"default_branch"`
	Labels        []string `yaml:"labels"`
}

// JiraConfig controls issue-tracker behavior.
type JiraConfig struct {
	UpdateStatus            bool              `yaml:"update_status"`
	StatusMapping           map[string]string `yaml:"status_mapping"`
	StoryPointsField        string            `yaml:"story_points_field"`
	AcceptanceCriteriaField string            `yaml:"acceptance_criteria_field"`
}

// PromptsConfig holds per-phase base prompt texts and directive tokens.
type PromptsConfig struct {
	Base       map[string]string `yaml:"base"`
	Directives map[string]string `yaml:"directives"`
}

// LLMConfig holds the refinement prompt scaffolding.
type LLMConfig struct {
	SystemPrompt     string `yaml:"system_prompt"`
	RefinementPrompt string `yaml:"refinement_prompt"`
}

// ProgressConfig holds the scoring policy: dimension weights and the
// evidence thresholds, exposed as tunables rather than hard-coded.
type ProgressConfig struct {
	Weights                map[string]float64 `yaml:"weights"`
	RequiredPaths          []string           `yaml:"required_paths"`
	MinImplementationFiles int                `yaml:"min_implementation_files"`
	TestFilePrefixes       []string           `yaml:"test_file_prefixes"`
	TestFileSuffixes       []string           `yaml:"test_file_suffixes"`
	DocExtensions          []string           `yaml:"doc_extensions"`
	SourceExtensions       []string           `yaml:"source_extensions"`
	ApprovalsRequired      int                `yaml:"approvals_required"`
}

// TimeoutsConfig bounds each collaborator's blocking calls, in seconds.
type TimeoutsConfig struct {
	Jira    int `yaml:"jira"`
	GitLab  int `yaml:"gitlab"`
	Refiner int `yaml:"refiner"`
}

// LoggingConfig controls the log file location and level.
type LoggingConfig struct {
	Level string `yaml:"level"`
	File  string `yaml:"file"`
}

// Default returns a Config with every tunable at its default. Base
// prompt texts have no default: they must come from the file.
func Default() *Config {
	return &Config{
		Features: FeaturesConfig{
			LLMRefinement: LLMRefinementConfig{
				Enabled:        false,
				FallbackToBase: true,
				PromptTypes:    phaseNames(),
				Model:          DefaultModel,
				Temperature:    0.1,
				MaxTokens:      DefaultMaxTokens,
			},
			GitLabDuo: GitLabDuoConfig{
				DefaultBranch: DefaultBaseBranch,
				Labels:        []string{"duo-workflow"},
			},
			Jira: JiraConfig{
				UpdateStatus:            false,
				StoryPointsField:        "customfield_10016",
				AcceptanceCriteriaField: "customfield_10100",
				StatusMapping: map[string]string{
					"to_do":       "To Do",
					"in_progress": "In Progress",
					"in_review":   "In Review",
					"done":        "Done",
				},
			},
		},
		Prompts: PromptsConfig{
			Directives: map[string]string{
				string(domain.PhaseStructure):      "/duo suggest",
				string(domain.PhaseImplementation): "/duo suggest",
				string(domain.PhaseTests):          "/duo test",
				string(domain.PhaseReview):         "/duo review",
				string(domain.PhaseDocumentation):  "/duo document",
			},
		},
		Progress: ProgressConfig{
			Weights: map[string]float64{
				string(domain.DimSetup):          0.10,
				string(domain.DimImplementation): 0.20,
				string(domain.DimTest):           0.20,
				string(domain.DimDocumentation):  0.10,
				string(domain.DimReview):         0.20,
				string(domain.DimAcceptance):     0.20,
			},
			RequiredPaths:          []string{"src/", "tests/", "README.md"},
			MinImplementationFiles: 1,
			TestFilePrefixes:       []string{"test_"},
			TestFileSuffixes:       []string{"_test.go", ".test.ts", ".spec.ts"},
			DocExtensions:          []string{".md", ".rst", ".txt"},
			SourceExtensions:       []string{".go", ".py", ".js", ".ts", ".java"},
			ApprovalsRequired:      1,
		},
		Timeouts: TimeoutsConfig{
			Jira:    DefaultJiraTimeout,
			GitLab:  DefaultGitLabTimeout,
			Refiner: DefaultRefinerTimeout,
		},
		Logging: LoggingConfig{
			Level: "info",
			File:  DefaultLogFile,
		},
	}
}

// Load reads the YAML file at path over the defaults and validates the
// result. Load never touches the network; validation failures surface as
// domain.ErrConfig before any collaborator call is made.
func Load(path string) (*Config, error) {
	cfg := Default()

	data, err := os.ReadFile(path)
	if err != nil {
		return nil, domain.ConfigErrorf("read %s: %v", path, err)
	}
	if err := yaml.Unmarshal(data, cfg); err != nil {
		return nil, domain.ConfigErrorf("parse %s: %v", path, err)
	}

	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return cfg, nil
}

// Validate checks the invariants the core relies on.
func (c *Config) Validate() error {
	for _, phase := range domain.AllPhases() {
		if c.Prompts.Base[string(phase)] == "" {
			return domain.ConfigErrorf("prompts.base.%s is missing", phase)
		}
		if c.Prompts.Directives[string(phase)] == "" {
			return domain.ConfigErrorf("prompts.directives.%s is missing", phase)
		}
	}

	var sum float64
	for _, dim := range domain.AllDimensions() {
		w, ok := c.Progress.Weights[string(dim)]
		if !ok {
			return domain.ConfigErrorf("progress.weights.%s is missing", dim)
		}
		if w < 0 {
			return domain.ConfigErrorf("progress.weights.%s is negative", dim)
		}
		sum += w
	}
	if math.Abs(sum-1.0) > 1e-9 {
		return domain.ConfigErrorf("progress.weights must sum to 1, got %g", sum)
	}

	if c.Progress.MinImplementationFiles < 1 {
		return domain.ConfigErrorf("progress.min_implementation_files must be >= 1")
	}
	if c.Progress.ApprovalsRequired < 1 {
		return domain.ConfigErrorf("progress.approvals_required must be >= 1")
	}

	for _, name := range c.Features.LLMRefinement.PromptTypes {
		if !isKnownPhase(name) {
			return domain.ConfigErrorf("features.llm_refinement.prompt_types contains unknown phase %q", name)
		}
	}

	if c.Features.LLMRefinement.Enabled && c.Features.LLMRefinement.Model == "" {
		return domain.ConfigErrorf("features.llm_refinement.model is required when refinement is enabled")
	}

	return nil
}

// RefinementAllowed reports whether refinement applies to a phase: the
// capability switch is on and the phase is in the allow-list.
func (c *Config) RefinementAllowed(phase domain.PromptPhase) bool {
	if !c.Features.LLMRefinement.Enabled {
		return false
	}
	for _, name := range c.Features.LLMRefinement.PromptTypes {
		if name == string(phase) {
			return true
		}
	}
	return false
}

// Credentials are the secrets consumed by the collaborator wrappers.
// They never live in the YAML file.
type Credentials struct {
	JiraURL      string
	JiraUsername string
	JiraAPIToken string
	GitLabURL    string
	GitLabToken  string
	OpenAIAPIKey string
}

// LoadCredentials reads credentials from the environment, honoring a
// .env file if one is present.
func LoadCredentials() (*Credentials, error) {
	_ = godotenv.Load()

	creds := &Credentials{
		JiraURL:      os.Getenv("JIRA_URL"),
		JiraUsername: os.Getenv("JIRA_USERNAME"),
		JiraAPIToken: os.Getenv("JIRA_API_TOKEN"),
		GitLabURL:    os.Getenv("GITLAB_URL"),
		GitLabToken:  os.Getenv("GITLAB_TOKEN"),
		OpenAIAPIKey: os.Getenv("OPENAI_API_KEY"),
	}

	missing := creds.missing()
	if len(missing) > 0 {
		return nil, fmt.Errorf("missing required environment variables: %v", missing)
	}
	return creds, nil
}

func (c *Credentials) missing() []string {
	var missing []string
	required := []struct {
		name  string
		value string
	}{
		{"JIRA_URL", c.JiraURL},
		{"JIRA_USERNAME", c.JiraUsername},
		{"JIRA_API_TOKEN", c.JiraAPIToken},
		{"GITLAB_URL", c.GitLabURL},
		{"GITLAB_TOKEN", c.GitLabToken},
	}
	for _, v := range required {
		if v.value == "" {
			missing = append(missing, v.name)
		}
	}
	return missing
}

func phaseNames() []string {
	phases := domain.AllPhases()
	names := make([]string, len(phases))
	for i, p := range phases {
		names[i] = string(p)
	}
	return names
}

func isKnownPhase(name string) bool {
	for _, p := range domain.AllPhases() {
		if string(p) == name {
			return true
		}
	}
	return false
}
