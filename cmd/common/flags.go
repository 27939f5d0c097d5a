package common

import (
	"flag"
	"fmt"
	"io"
	"os"
	"strings"
)

// CommonFlags contains flags that are shared across subcommands
type CommonFlags struct {
	// Environment and configuration
	EnvFile    *string
	ConfigFile *string
	RunsDir    *string

	// Logging and output
	LogLevel *string
	Pretty   *bool
	Verbose  *bool
	Silent   *bool
}

// RegisterCommonFlags registers common flags on a subcommand's flag set
func RegisterCommonFlags(fs *flag.FlagSet) *CommonFlags {
	return &CommonFlags{
		EnvFile:    fs.String("env", ".env", "Environment file path"),
		ConfigFile: fs.String("config", "", "Settings file (YAML or JSON)"),
		RunsDir:    fs.String("runs-dir", "", "Override the runs directory"),

		LogLevel: fs.String("log-level", "", "Log level: debug, info, warn, error"),
		Pretty:   fs.Bool("pretty", true, "Human readable console logs"),
		Verbose:  fs.Bool("verbose", false, "Enable debug logging"),
		Silent:   fs.Bool("silent", false, "Only log errors"),
	}
}

// Level resolves the effective log level; -verbose and -silent win over
// -log-level, which wins over fallback
func (c *CommonFlags) Level(fallback string) string {
	switch {
	case *c.Verbose:
		return "debug"
	case *c.Silent:
		return "error"
	case *c.LogLevel != "":
		return *c.LogLevel
	}
	return fallback
}

// FlagValidator provides flag validation utilities
type FlagValidator struct {
	errors []string
}

// NewFlagValidator creates a new flag validator
func NewFlagValidator() *FlagValidator {
	return &FlagValidator{
		errors: make([]string, 0),
	}
}

// ValidateRequired validates that a string flag is set
func (v *FlagValidator) ValidateRequired(name, value string) *FlagValidator {
	if strings.TrimSpace(value) == "" {
		v.errors = append(v.errors, fmt.Sprintf("%s is required", name))
	}
	return v
}

// ValidateInt validates an int flag value
func (v *FlagValidator) ValidateInt(name string, value int, min, max int) *FlagValidator {
	if value < min || value > max {
		v.errors = append(v.errors, fmt.Sprintf("%s must be between %d and %d, got: %d", name, min, max, value))
	}
	return v
}

// ValidateChoice validates that a string is one of the allowed choices
func (v *FlagValidator) ValidateChoice(name, value string, choices []string) *FlagValidator {
	for _, choice := range choices {
		if value == choice {
			return v
		}
	}
	v.errors = append(v.errors, fmt.Sprintf("%s must be one of [%s], got: %s", name, strings.Join(choices, ", "), value))
	return v
}

// ValidateFile validates that a file exists
func (v *FlagValidator) ValidateFile(name, path string, required bool) *FlagValidator {
	if path == "" {
		if required {
			v.errors = append(v.errors, fmt.Sprintf("%s is required", name))
		}
		return v
	}

	info, err := os.Stat(path)
	if os.IsNotExist(err) {
		v.errors = append(v.errors, fmt.Sprintf("%s file does not exist: %s", name, path))
	} else if err == nil && info.IsDir() {
		v.errors = append(v.errors, fmt.Sprintf("%s is a directory: %s", name, path))
	}
	return v
}

// AddError adds a custom validation error
func (v *FlagValidator) AddError(message string) *FlagValidator {
	v.errors = append(v.errors, message)
	return v
}

// HasErrors returns true if there are validation errors
func (v *FlagValidator) HasErrors() bool {
	return len(v.errors) > 0
}

// GetError returns a formatted error message with all validation errors
func (v *FlagValidator) GetError() error {
	if len(v.errors) == 0 {
		return nil
	}

	if len(v.errors) == 1 {
		return fmt.Errorf("validation error: %s", v.errors[0])
	}

	return fmt.Errorf("validation errors:\n  - %s", strings.Join(v.errors, "\n  - "))
}

// UsageFormatter prints the subcommand overview
type UsageFormatter struct {
	AppName        string
	AppDescription string
	Commands       []UsageCommand
	Examples       []UsageExample
}

// UsageCommand is one subcommand line
type UsageCommand struct {
	Name        string
	Description string
}

// UsageExample represents a usage example
type UsageExample struct {
	Command     string
	Description string
}

// NewUsageFormatter creates a new usage formatter
func NewUsageFormatter(appName, description string) *UsageFormatter {
	return &UsageFormatter{
		AppName:        appName,
		AppDescription: description,
	}
}

// AddCommand adds a subcommand line
func (u *UsageFormatter) AddCommand(name, description string) *UsageFormatter {
	u.Commands = append(u.Commands, UsageCommand{Name: name, Description: description})
	return u
}

// AddExample adds a usage example
func (u *UsageFormatter) AddExample(command, description string) *UsageFormatter {
	u.Examples = append(u.Examples, UsageExample{
		Command:     command,
		Description: description,
	})
	return u
}

// PrintUsage prints formatted usage information
func (u *UsageFormatter) PrintUsage(w io.Writer) {
	fmt.Fprintf(w, "%s - %s\n\n", u.AppName, u.AppDescription)

	fmt.Fprintf(w, "USAGE:\n")
	fmt.Fprintf(w, "  %s <command> [OPTIONS]\n\n", u.AppName)

	if len(u.Commands) > 0 {
		fmt.Fprintf(w, "COMMANDS:\n")
		for _, c := range u.Commands {
			fmt.Fprintf(w, "  %-12s %s\n", c.Name, c.Description)
		}
		fmt.Fprintln(w)
	}

	if len(u.Examples) > 0 {
		fmt.Fprintf(w, "EXAMPLES:\n")
		for _, example := range u.Examples {
			fmt.Fprintf(w, "  # %s\n", example.Description)
			fmt.Fprintf(w, "  %s\n\n", example.Command)
		}
	}

	fmt.Fprintf(w, "Run '%s <command> -h' for the options of a command.\n", u.AppName)
}
