package setup

import (
	"fmt"
	"net/url"
	"os"
	"strings"
	"time"

	"github.com/charmbracelet/huh"
	"github.com/charmbracelet/lipgloss"
	"gopkg.in/yaml.v3"

	"github.com/azebets/walletsync/config"
)

// DefaultPath is where RunTUI writes the generated config.
const DefaultPath = "config.gen.yaml"

var (
	subtle    = lipgloss.AdaptiveColor{Light: "#D9DCCF", Dark: "#383838"}
	highlight = lipgloss.AdaptiveColor{Light: "#874BFD", Dark: "#7D56F4"}
	special   = lipgloss.AdaptiveColor{Light: "#43BF6D", Dark: "#73F59F"}

	headerStyle = lipgloss.NewStyle().
			Foreground(lipgloss.Color("205")).
			Background(highlight).
			Padding(1, 2).
			Bold(true).
			MarginBottom(1)

	stepStyle = lipgloss.NewStyle().
			Foreground(special).
			Bold(true).
			MarginTop(1).
			MarginBottom(0)
)

// Answers collects the wizard input before it becomes a config file.
type Answers struct {
	ServerURL        string
	SocketURL        string
	UserID           string
	Primary          string
	Secondary        string
	Games            []string
	ResyncInterval   string
	DeductionTimeout string
	PreferredFiat    string
	StateDir         string
}

func defaultAnswers() Answers {
	return Answers{
		ServerURL:        "https://",
		Primary:          "USDT",
		Secondary:        "Fun",
		ResyncInterval:   "16m",
		DeductionTimeout: "20s",
		PreferredFiat:    "USD",
		StateDir:         "var/state",
	}
}

func screen(step string) {
	fmt.Print("\033[H\033[2J")
	fmt.Println(headerStyle.Render("WALLETSYNC CONFIG WIZARD"))
	fmt.Println(stepStyle.Render(step))
}

// RunTUI launches the terminal configuration wizard and returns the path of
// the written config.
func RunTUI() (string, error) {
	a := defaultAnswers()
	var confirm bool

	fmt.Print("\033[H\033[2J")
	fmt.Println(headerStyle.Render("WALLETSYNC CONFIG WIZARD"))
	fmt.Println(lipgloss.NewStyle().Foreground(subtle).Render("Point the wallet at your platform.\n"))

	fmt.Println(stepStyle.Render("STEP 1: PLATFORM"))
	err := huh.NewForm(
		huh.NewGroup(
			huh.NewInput().
				Title("REST API URL").
				Description("Base url of the platform api (e.g. https://api.example.com)").
				Value(&a.ServerURL).
				Validate(validateURL),
			huh.NewInput().
				Title("Realtime URL").
				Description("Websocket url, leave empty to run without games").
				Value(&a.SocketURL).
				Validate(validateOptionalURL),
			huh.NewInput().
				Title("User ID").
				Value(&a.UserID),
		),
	).Run()
	if err != nil {
		return "", err
	}

	screen("STEP 2: CURRENCIES")
	err = huh.NewForm(
		huh.NewGroup(
			huh.NewInput().
				Title("Primary currency").
				Value(&a.Primary).
				Validate(notEmpty("primary currency")),
			huh.NewInput().
				Title("Secondary currency").
				Description("Shown next to the primary, may be empty").
				Value(&a.Secondary),
			huh.NewSelect[string]().
				Title("Preferred fiat").
				Options(
					huh.NewOption("US Dollar", "USD"),
					huh.NewOption("Euro", "EUR"),
					huh.NewOption("Japanese Yen", "JPY"),
					huh.NewOption("Brazilian Real", "BRL"),
				).
				Value(&a.PreferredFiat),
		),
	).Run()
	if err != nil {
		return "", err
	}

	if a.SocketURL != "" {
		screen("STEP 3: GAMES")
		err = huh.NewForm(
			huh.NewGroup(
				huh.NewMultiSelect[string]().
					Title("Games to follow").
					Options(
						huh.NewOption("Hilo", "hilo"),
						huh.NewOption("Mines", "mines"),
						huh.NewOption("Crash", "crash"),
						huh.NewOption("Dice", "dice"),
					).
					Value(&a.Games),
			),
		).Run()
		if err != nil {
			return "", err
		}
	}

	screen("STEP 4: TIMING")
	err = huh.NewForm(
		huh.NewGroup(
			huh.NewInput().
				Title("Resync interval").
				Description("Duration string (e.g. 5m, 16m)").
				Value(&a.ResyncInterval).
				Validate(validateDuration),
			huh.NewInput().
				Title("Deduction timeout").
				Description("How long an unconfirmed deduction holds funds (e.g. 20s)").
				Value(&a.DeductionTimeout).
				Validate(validateDuration),
			huh.NewInput().
				Title("State directory").
				Value(&a.StateDir),
		),
	).Run()
	if err != nil {
		return "", err
	}

	screen("FINAL CONFIRMATION")
	summary := fmt.Sprintf(
		"Server: %s\nRealtime: %s\nUser: %s\nCurrencies: %s %s\nGames: %s\nResync: %s\n",
		a.ServerURL, a.SocketURL, a.UserID, a.Primary, a.Secondary, strings.Join(a.Games, ", "), a.ResyncInterval,
	)
	fmt.Println(lipgloss.NewStyle().Border(lipgloss.NormalBorder()).Padding(1).Render(summary))

	err = huh.NewForm(
		huh.NewGroup(
			huh.NewConfirm().
				Title("Save Configuration?").
				Affirmative("Yes, save and start").
				Negative("No, exit").
				Value(&confirm),
		),
	).Run()
	if err != nil {
		return "", err
	}
	if !confirm {
		return "", fmt.Errorf("setup cancelled by user")
	}

	if err := Write(DefaultPath, a); err != nil {
		return "", err
	}

	fmt.Println(lipgloss.NewStyle().Foreground(special).Render(fmt.Sprintf("\n✓ Configuration saved to %s\nStarting wallet...", DefaultPath)))
	fmt.Printf("Export %s before starting if the platform needs a token.\n", config.TokenEnv)
	time.Sleep(1500 * time.Millisecond)
	return DefaultPath, nil
}

// Build turns wizard answers into the yaml config shape.
func Build(a Answers) (config.ConfigTmp, error) {
	resync, err := time.ParseDuration(a.ResyncInterval)
	if err != nil {
		return config.ConfigTmp{}, fmt.Errorf("invalid resync interval: %w", err)
	}
	deduction, err := time.ParseDuration(a.DeductionTimeout)
	if err != nil {
		return config.ConfigTmp{}, fmt.Errorf("invalid deduction timeout: %w", err)
	}

	display := []string{a.Primary}
	tracked := []string{a.Primary}
	if a.Secondary != "" && a.Secondary != a.Primary {
		display = append(display, a.Secondary)
		tracked = append(tracked, a.Secondary)
	}

	tmp := config.ConfigTmp{
		ServerURL:         strings.TrimSpace(a.ServerURL),
		SocketURL:         strings.TrimSpace(a.SocketURL),
		UserID:            strings.TrimSpace(a.UserID),
		PrimaryCurrency:   a.Primary,
		DisplayCurrencies: display,
		TrackedCurrencies: tracked,
		ResyncInterval:    resync,
		DeductionTimeout:  deduction,
		PreferredFiat:     a.PreferredFiat,
		StateDir:          a.StateDir,
		Games:             a.Games,
	}
	if a.StateDir != "" {
		tmp.JournalDir = strings.TrimRight(a.StateDir, "/") + "/journal"
	}
	return tmp, nil
}

// Write builds the config from answers and saves it as yaml at path.
func Write(path string, a Answers) error {
	tmp, err := Build(a)
	if err != nil {
		return err
	}
	data, err := yaml.Marshal(tmp)
	if err != nil {
		return fmt.Errorf("failed to generate yaml: %w", err)
	}
	if err := os.WriteFile(path, data, 0o644); err != nil {
		return fmt.Errorf("failed to save config file: %w", err)
	}
	return nil
}

func validateURL(s string) error {
	u, err := url.Parse(strings.TrimSpace(s))
	if err != nil || u.Host == "" {
		return fmt.Errorf("must be an absolute url")
	}
	return nil
}

func validateOptionalURL(s string) error {
	if strings.TrimSpace(s) == "" {
		return nil
	}
	return validateURL(s)
}

func validateDuration(s string) error {
	d, err := time.ParseDuration(s)
	if err != nil {
		return fmt.Errorf("must be a duration like 30s or 5m")
	}
	if d <= 0 {
		return fmt.Errorf("must be positive")
	}
	return nil
}

func notEmpty(field string) func(string) error {
	return func(s string) error {
		if strings.TrimSpace(s) == "" {
			return fmt.Errorf("%s cannot be empty", field)
		}
		return nil
	}
}
