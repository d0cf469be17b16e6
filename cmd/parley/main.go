package main

import (
	"context"
	"flag"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/joho/godotenv"
	"github.com/parley-cli/parley/agent"
	"github.com/parley-cli/parley/agent/terminal"
	"github.com/parley-cli/parley/config"
	"github.com/parley-cli/parley/llm"
	"github.com/parley-cli/parley/logging"
	"github.com/parley-cli/parley/session"
	"github.com/parley-cli/parley/skills"
)

func main() {
	// Define flags
	modeFlag := flag.String("m", "", "Execution mode: 'auto' or 'prompt'")
	sessionFlag := flag.String("s", "", "Session name to create or resume")
	toolsetFlag := flag.String("t", "", "Toolset to use (defaults to 'default')")
	resumeFlag := flag.Bool("r", false, "Resume the most recent session")
	toolVerbosityFlag := flag.String("tool-verbosity", "", "Tool verbosity level: 'none', 'info', or 'all'")
	checkFlag := flag.Bool("check", false, "Check connectivity to the configured provider and exit")
	flag.Parse()

	// Load environment overrides from .env if present
	_ = godotenv.Load()

	// Load configuration
	cfg, err := config.LoadConfig()
	if err != nil {
		fmt.Fprintf(os.Stderr, "Error loading configuration: %+v\n", err)
		os.Exit(1)
	}

	logger, closeLogger, err := logging.New(cfg.LogDir)
	if err != nil {
		fmt.Fprintf(os.Stderr, "Warning: file logging unavailable: %+v\n", err)
		logger = logging.Discard()
	} else {
		defer closeLogger()
	}

	// Initialize the LLM client
	apiKey := apiKeyFromEnv(cfg.Provider)
	if apiKey == "" {
		apiKey = cfg.APIKey
	}
	if apiKey == "" {
		fmt.Fprintf(os.Stderr, "Warning: no API key found for provider '%s'. Set %s or 'api_key' in the configuration.\n", cfg.Provider, apiKeyEnvVar(cfg.Provider))
	}
	client, err := llm.NewClient(llm.Config{
		Provider:  cfg.Provider,
		Model:     cfg.Model,
		APIKey:    apiKey,
		BaseURL:   cfg.BaseURL,
		MaxTokens: cfg.MaxTokens,
		Retry: llm.RetryConfig{
			Enabled:    cfg.Retry.Enabled,
			MaxRetries: cfg.Retry.MaxRetries,
		},
		Logger: logger,
	})
	if err != nil {
		fmt.Fprintf(os.Stderr, "Error initializing %s client: %+v\n", cfg.Provider, err)
		os.Exit(1)
	}

	if *checkFlag {
		fmt.Printf("Checking connection to %s (model %s)...\n", cfg.Provider, cfg.Model)
		if !client.CheckConnection(context.Background()) {
			fmt.Println("Connection check failed. See the log for details.")
			os.Exit(1)
		}
		fmt.Println("Connection check passed.")
		return
	}

	var sess *session.Session
	sessionName := *sessionFlag

	if *resumeFlag {
		sessionName, err = session.MostRecent()
		if err != nil {
			fmt.Fprintf(os.Stderr, "Error finding the most recent session: %+v\n", err)
			os.Exit(1)
		}
	}

	if sessionName != "" {
		sess, err = session.Load(sessionName)
		if err == nil {
			fmt.Printf("Resuming session: %s\n", sessionName)
			// Apply session flags if not explicitly overridden by user
			if *modeFlag == "" && sess.Mode != "" {
				*modeFlag = sess.Mode
			}
			if *toolsetFlag == "" && sess.Toolset != "" {
				*toolsetFlag = sess.Toolset
			}
			if *toolVerbosityFlag == "" && sess.ToolVerbosity != "" {
				*toolVerbosityFlag = sess.ToolVerbosity
			}
		} else if *resumeFlag {
			fmt.Fprintf(os.Stderr, "Error resuming session '%s': %+v\n", sessionName, err)
			os.Exit(1)
		}
	}

	if sess == nil {
		// Start new session
		if sessionName == "" {
			sessionName = defaultSessionName()
		}
		sess, err = session.New(sessionName)
		if err != nil {
			fmt.Fprintf(os.Stderr, "Error creating session '%s': %+v\n", sessionName, err)
			os.Exit(1)
		}
		fmt.Printf("Starting new session: %s\n", sessionName)
	}

	if *modeFlag == "" {
		*modeFlag = "prompt"
	}
	if *toolsetFlag == "" {
		*toolsetFlag = "default"
	}
	if *toolVerbosityFlag == "" {
		*toolVerbosityFlag = "none"
	}

	// Update session with current flag values and save
	sess.Mode = *modeFlag
	sess.Toolset = *toolsetFlag
	sess.ToolVerbosity = *toolVerbosityFlag
	if err := sess.Save(); err != nil {
		fmt.Fprintf(os.Stderr, "Error saving session '%s': %+v\n", sessionName, err)
		os.Exit(1)
	}

	// Validate mode
	var opMode agent.Mode
	switch *modeFlag {
	case "auto":
		opMode = agent.ModeAuto
	case "prompt":
		opMode = agent.ModePrompt
	default:
		fmt.Fprintf(os.Stderr, "Invalid mode '%s'. Must be 'auto' or 'prompt'.\n", *modeFlag)
		os.Exit(1)
	}

	// Validate tool verbosity
	var verbosity agent.ToolVerbosity
	switch *toolVerbosityFlag {
	case "none":
		verbosity = agent.ToolVerbosityNone
	case "info":
		verbosity = agent.ToolVerbosityInfo
	case "all":
		verbosity = agent.ToolVerbosityAll
	default:
		fmt.Fprintf(os.Stderr, "Invalid tool verbosity '%s'. Must be 'none', 'info', or 'all'.\n", *toolVerbosityFlag)
		os.Exit(1)
	}

	// Load skills and keep them fresh while the session runs
	loader := skills.NewLoader(cfg.SkillsDir)
	watcher, err := skills.Watch(loader, logger)
	if err != nil {
		logger.Warn("skills watcher unavailable", "dir", cfg.SkillsDir, "error", err)
	} else {
		defer watcher.Stop()
	}

	// Seed a fresh session with the system prompt and skill summaries
	if len(sess.Messages) == 0 {
		systemPrompt := cfg.SystemPrompt
		if summary := loader.Summary(); summary != "" {
			if systemPrompt != "" {
				systemPrompt += "\n\n"
			}
			systemPrompt += summary
		}
		if systemPrompt != "" {
			sess.AddMessage(session.Message{Role: session.RoleSystem, Content: systemPrompt})
		}
	}

	// Create the agent
	parleyAgent, err := agent.New(cfg, sess, *toolsetFlag, opMode, client, verbosity, logger)
	if err != nil {
		fmt.Fprintf(os.Stderr, "Error initializing agent: %+v\n", err)
		os.Exit(1)
	}
	defer parleyAgent.Close()

	// Get initial prompt from remaining arguments
	initialPrompt := strings.Join(flag.Args(), " ")

	fmt.Printf("Parley is ready. Provider %s, model %s, mode %s.\n", cfg.Provider, cfg.Model, *modeFlag)
	term := terminal.New(parleyAgent)
	if err := term.Run(context.Background(), initialPrompt); err != nil {
		fmt.Fprintf(os.Stderr, "Agent stopped with an error: %+v\n", err)
		os.Exit(1)
	}
}

// apiKeyFromEnv returns the conventional environment variable value for the
// given provider, or "" when it is unset.
func apiKeyFromEnv(provider string) string {
	return os.Getenv(apiKeyEnvVar(provider))
}

func apiKeyEnvVar(provider string) string {
	switch provider {
	case llm.ProviderOpenAI:
		return "OPENAI_API_KEY"
	case llm.ProviderAnthropic:
		return "ANTHROPIC_API_KEY"
	}
	return ""
}

func defaultSessionName() string {
	wd, err := os.Getwd()
	if err != nil {
		wd = "parley"
	}
	dirName := filepath.Base(wd)
	timestamp := time.Now().Format("2006-01-02_15-04-05")
	return fmt.Sprintf("%s_%s", dirName, timestamp)
}
