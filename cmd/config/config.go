package config

import (
	"bufio"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"strconv"
	"strings"

	log "github.com/sirupsen/logrus"
	"github.com/spf13/cobra"

	"github.com/sidkik/syncotter/cmd/util"
	"github.com/sidkik/syncotter/pkg/config"
	"github.com/sidkik/syncotter/pkg/errors"
	"github.com/sidkik/syncotter/pkg/netprofile"
)

// Mocked for unit testing.
var (
	stdout              io.Writer = os.Stdout
	stdin               io.Reader = os.Stdin
	parseConfig                   = config.Parse
	writeConfig                   = config.Write
	stat                          = os.Stat
	getWorkingDirectory           = os.Getwd
)

// defaultExcludeDirectories are skipped by new configs unless the user says
// otherwise.
var defaultExcludeDirectories = []string{".git", "node_modules"}

// New creates a new `config` command.
func New() *cobra.Command {
	var cliOpts config.Config
	var path string
	cmd := &cobra.Command{
		Use:   "config",
		Short: "Create the SyncOtter configuration",
		Run: func(_ *cobra.Command, _ []string) {
			if err := SetupConfig(path, cliOpts); err != nil {
				err = errors.NewFriendlyError("Failed to setup configuration:\n%s", err)
				util.HandleFatalError(err)
			}
		},
	}
	cmd.PersistentFlags().StringVarP(&path, "config", "c", config.DefaultConfigPath,
		"Path to the config file.")
	cmd.Flags().StringVar(&cliOpts.SourceDirectory, "source", "",
		"Set the source directory in the config. "+
			"Optional: If not set, `syncotter config` will interactively prompt.")
	cmd.Flags().StringVar(&cliOpts.TargetDirectory, "target", "",
		"Set the target directory in the config. "+
			"Optional: If not set, `syncotter config` will interactively prompt.")
	cmd.Flags().StringSliceVar(&cliOpts.ExcludeDirectories, "exclude-dir", nil,
		"Set the excluded directory names in the config. "+
			"Optional: If not set, `syncotter config` will interactively prompt.")

	// Setup the commands for querying the contents of the config.
	type getterSpec struct {
		use, short string
		fn         func(config.Config) string
	}

	getters := []getterSpec{
		{
			use:   "get-source",
			short: "Get the configured source directory",
			fn:    func(cfg config.Config) string { return cfg.SourceDirectory },
		},
		{
			use:   "get-target",
			short: "Get the configured target directory",
			fn:    func(cfg config.Config) string { return cfg.TargetDirectory },
		},
	}
	for _, getter := range getters {
		getter := getter
		cmd.AddCommand(&cobra.Command{
			Use:   getter.use,
			Short: getter.short,
			Run: func(_ *cobra.Command, _ []string) {
				cfg, err := parseConfig(path)
				if err != nil {
					err = errors.WithContext(err, "read config")
					util.HandleFatalError(err)
				}

				fmt.Fprintln(stdout, getter.fn(cfg))
			},
		})
	}

	return cmd
}

// SetupConfig prompts for the fields that weren't set in `cliOpts`, and
// writes the resulting config to `path`.
func SetupConfig(path string, cliOpts config.Config) error {
	currConfig, err := parseConfig(path)
	if err != nil {
		currConfig = config.Config{}
		log.WithError(err).Debug("Failed to read current config")
	}

	cfg, err := generateConfig(cliOpts, currConfig)
	if err != nil {
		return errors.WithContext(err, "generate config")
	}

	if err := writeConfig(path, cfg); err != nil {
		return errors.WithContext(err, "write config")
	}

	fmt.Fprintf(stdout, "Wrote config to %s\n", path)
	return nil
}

func sourceValidationFn(path string) (string, bool) {
	if netprofile.IsRemote(path) {
		return "", true
	}

	fi, err := stat(path)
	switch {
	case os.IsNotExist(err):
		return fmt.Sprintf("%q doesn't exist. Please pick another directory.", path), false
	case err != nil:
		return fmt.Sprintf("Failed to read %q: %s", path, err), false
	case !fi.IsDir():
		return fmt.Sprintf("%q isn't a directory. Please pick another directory.", path), false
	}
	return "", true
}

func targetValidationFn(source string) func(string) (string, bool) {
	return func(target string) (string, bool) {
		if target == "" {
			return "The target directory is required.", false
		}

		if source != "" && !netprofile.IsRemote(source) && !netprofile.IsRemote(target) {
			rel, err := filepath.Rel(source, target)
			if err == nil && !strings.HasPrefix(rel, "..") {
				return "The target directory can't be inside the source directory. " +
					"Please pick another directory.", false
			}
		}
		return "", true
	}
}

type prompt struct {
	helpString, prompt, defaultAnswer, currAnswer string
	field                                         *string
	validationFn                                  func(string) (string, bool)
}

// generateConfig interacts with the user to decide what the user's desired
// configuration is.
// It makes best guesses at reasonable defaults, and allows users to explicitly
// override them if desired.
func generateConfig(cliOpts, currConfig config.Config) (config.Config, error) {
	cfg := currConfig
	cfg.SourceDirectory = cliOpts.SourceDirectory
	cfg.TargetDirectory = cliOpts.TargetDirectory

	var defaultSource string
	if wd, err := getWorkingDirectory(); err == nil {
		defaultSource = wd
	} else {
		log.WithError(err).Info("Failed to guess source directory")
	}

	var excludeDirs string
	stdinReader := bufio.NewReader(stdin)
	prompts := []*prompt{}
	if cliOpts.SourceDirectory == "" {
		prompts = append(prompts, &prompt{
			helpString: "Enter the directory to copy files from.\n" +
				"It can be a local directory or a network share such as \\\\server\\share.",
			prompt:        "Source directory",
			defaultAnswer: defaultSource,
			currAnswer:    currConfig.SourceDirectory,
			field:         &cfg.SourceDirectory,
			validationFn:  sourceValidationFn,
		})
	}

	if cliOpts.TargetDirectory == "" {
		prompts = append(prompts, &prompt{
			helpString: "Enter the directory to copy files to.\n" +
				"Files are only ever added or updated in it, never deleted.",
			prompt:     "Target directory",
			currAnswer: currConfig.TargetDirectory,
			field:      &cfg.TargetDirectory,
		})
	}

	if cliOpts.ExcludeDirectories == nil {
		prompts = append(prompts, &prompt{
			helpString: "Enter the names of directories to skip, separated by commas.\n" +
				"They're skipped wherever they appear in the source.",
			prompt:        "Excluded directories",
			defaultAnswer: strings.Join(defaultExcludeDirectories, ","),
			currAnswer:    strings.Join(currConfig.ExcludeDirectories, ","),
			field:         &excludeDirs,
		})
	}

	for _, prompt := range prompts {
		// The target can only be validated once the source is known.
		if prompt.field == &cfg.TargetDirectory {
			prompt.validationFn = targetValidationFn(cfg.SourceDirectory)
		}

		var resp string
		var err error
		for {
			resp, err = promptUser(stdinReader, prompt.helpString, prompt.prompt,
				prompt.defaultAnswer, prompt.currAnswer)
			if err != nil {
				return config.Config{}, errors.WithContext(err, "read response")
			}

			if prompt.validationFn == nil {
				break
			}

			validationErr, ok := prompt.validationFn(resp)
			if ok {
				break
			}

			fmt.Fprintln(stdout, validationErr)
		}

		*prompt.field = resp
	}

	if cliOpts.ExcludeDirectories != nil {
		cfg.ExcludeDirectories = cliOpts.ExcludeDirectories
	} else {
		cfg.ExcludeDirectories = splitList(excludeDirs)
	}
	return cfg, nil
}

func splitList(list string) (items []string) {
	for _, item := range strings.Split(list, ",") {
		if item = strings.TrimSpace(item); item != "" {
			items = append(items, item)
		}
	}
	return items
}

func promptUser(stdinReader *bufio.Reader, helpString, prompt, defaultAnswer,
	currAnswer string) (string, error) {

	// Display a new line at the end to separate different fields to make it
	// look clearer.
	defer fmt.Fprintln(stdout)

	options := []string{}
	if defaultAnswer != "" {
		options = append(options, defaultAnswer)
	}
	if currAnswer != "" && currAnswer != defaultAnswer {
		options = append(options, currAnswer)
	}
	options = append(options, "(Enter manually)")

	fmt.Fprintln(stdout, helpString+"\n"+prompt+":")

	if nOptions := len(options); nOptions > 1 {
		// defaultAnswer or currAnswer exists.
		fmt.Fprintln(stdout)
		for i, option := range options {
			if i == 0 {
				option = fmt.Sprintf("%s (recommended)", option)
			}
			fmt.Fprintf(stdout, "\t%d. %s\n", i+1, option)
		}
		fmt.Fprintln(stdout)

		for {
			fmt.Fprintf(stdout, "Please choose one [1-%d]: ", nOptions)
			choiceStr, err := readLine(stdinReader)
			if err != nil {
				return "", err
			}

			var choice int

			// Default to the first choice if user doesn't enter anything.
			if choiceStr == "" {
				choice = 1
			} else {
				choice, err = strconv.Atoi(choiceStr)
				if err != nil || choice < 1 || choice > nOptions {
					// Try again if the input is invalid.
					continue
				}
			}

			if choice == nOptions {
				// Enter manually.
				break
			}

			return options[choice-1], nil
		}
	}

	fmt.Fprint(stdout, "Please enter manually: ")
	return readLine(stdinReader)
}

// readLine reads a line from the user. A final line without a newline is
// accepted.
func readLine(reader *bufio.Reader) (string, error) {
	line, err := reader.ReadString('\n')
	if err != nil && !(err == io.EOF && line != "") {
		return "", err
	}
	return strings.TrimRight(line, "\r\n"), nil
}
