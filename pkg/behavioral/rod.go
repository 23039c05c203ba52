package behavioral

import (
	"context"
	"fmt"
	"strings"
	"time"

	"github.com/go-rod/rod"
	"github.com/go-rod/rod/lib/launcher"
	"github.com/go-rod/rod/lib/proto"

	"github.com/luissimon96/migration-validator/pkg/fingerprint"
	"github.com/luissimon96/migration-validator/pkg/models"
)

// RodProber drives a headless Chromium via go-rod. One prober holds one
// browser process; pages are opened and closed per scenario.
type RodProber struct {
	browser  *rod.Browser
	headless bool
}

// NewRodProber launches the browser. Call Close when done.
func NewRodProber(headless bool) (*RodProber, error) {
	path, err := launcher.New().Headless(headless).Launch()
	if err != nil {
		return nil, fmt.Errorf("launching browser: %w", err)
	}
	browser := rod.New().ControlURL(path)
	if err := browser.Connect(); err != nil {
		return nil, fmt.Errorf("connecting to browser: %w", err)
	}
	return &RodProber{browser: browser, headless: headless}, nil
}

// Close shuts the browser down.
func (p *RodProber) Close() error {
	return p.browser.Close()
}

// RunScenario navigates to the URL, optionally logs in, performs the
// scenario's interactions, and records one trace step per observable
// action. The page is always closed before returning, even on deadline.
func (p *RodProber) RunScenario(ctx context.Context, url string, scenario models.Scenario, creds *models.Credentials) (*models.Trace, error) {
	trace := &models.Trace{Scenario: scenario.Name, URL: url}

	page, err := p.browser.Page(proto.TargetCreateTarget{URL: "about:blank"})
	if err != nil {
		return nil, fmt.Errorf("opening page: %w", err)
	}
	page = page.Context(ctx)
	defer func() { _ = page.Close() }()

	step, err := p.navigate(page, url)
	if err != nil {
		return nil, err
	}
	trace.Steps = append(trace.Steps, *step)

	if creds != nil {
		step, err = p.login(page, creds)
		if err != nil {
			trace.Error = err.Error()
			return trace, nil
		}
		trace.Steps = append(trace.Steps, *step)
	}

	steps, err := p.performScenario(page, scenario)
	trace.Steps = append(trace.Steps, steps...)
	if err != nil {
		trace.Error = err.Error()
	}
	return trace, nil
}

// navigate loads the URL and captures the landing state.
func (p *RodProber) navigate(page *rod.Page, url string) (*models.InteractionStep, error) {
	start := time.Now()
	if err := page.Navigate(url); err != nil {
		return nil, fmt.Errorf("navigating to %s: %w", url, err)
	}
	if err := page.WaitLoad(); err != nil {
		return nil, fmt.Errorf("waiting for load: %w", err)
	}
	state, validation := p.captureState(page)
	return &models.InteractionStep{
		Kind:             "navigate",
		Input:            url,
		Outcome:          "loaded",
		StateFingerprint: state,
		ValidationError:  validation,
		Elapsed:          time.Since(start),
	}, nil
}

// login fills the first username/password form. The typed secret is never
// recorded; the step input is a placeholder.
func (p *RodProber) login(page *rod.Page, creds *models.Credentials) (*models.InteractionStep, error) {
	start := time.Now()
	user, err := page.Element(`input[type="text"], input[type="email"], input[name*="user"]`)
	if err != nil {
		return nil, fmt.Errorf("locating username field: %w", err)
	}
	if err := user.Input(creds.Username); err != nil {
		return nil, fmt.Errorf("typing username: %w", err)
	}
	pass, err := page.Element(`input[type="password"]`)
	if err != nil {
		return nil, fmt.Errorf("locating password field: %w", err)
	}
	if err := pass.Input(creds.Password); err != nil {
		return nil, fmt.Errorf("typing password: %w", err)
	}
	submit, err := page.Element(`button[type="submit"], input[type="submit"]`)
	if err != nil {
		return nil, fmt.Errorf("locating submit control: %w", err)
	}
	if err := submit.Click(proto.InputMouseButtonLeft, 1); err != nil {
		return nil, fmt.Errorf("clicking submit: %w", err)
	}
	if err := page.WaitLoad(); err != nil {
		return nil, fmt.Errorf("waiting after login: %w", err)
	}

	state, validation := p.captureState(page)
	return &models.InteractionStep{
		Kind:             "login",
		Selector:         `input[type="password"]`,
		Input:            creds.Redacted(),
		Outcome:          "submitted",
		StateFingerprint: state,
		ValidationError:  validation,
		Elapsed:          time.Since(start),
	}, nil
}

// performScenario executes the scenario's interaction hints: each
// comma-separated token of the description names a control to click or a
// field to fill ("click:selector", "fill:selector=value", "wait:selector").
func (p *RodProber) performScenario(page *rod.Page, scenario models.Scenario) ([]models.InteractionStep, error) {
	var steps []models.InteractionStep
	for _, action := range parseActions(scenario.Description) {
		start := time.Now()
		step := models.InteractionStep{Kind: action.kind, Selector: action.selector, Input: action.value}

		var err error
		switch action.kind {
		case "click":
			var el *rod.Element
			if el, err = page.Element(action.selector); err == nil {
				if err = el.Click(proto.InputMouseButtonLeft, 1); err == nil {
					err = page.WaitLoad()
				}
			}
		case "fill":
			var el *rod.Element
			if el, err = page.Element(action.selector); err == nil {
				err = el.Input(action.value)
			}
		case "wait":
			_, err = page.Element(action.selector)
		}

		if err != nil {
			step.Outcome = "error"
			step.Elapsed = time.Since(start)
			steps = append(steps, step)
			return steps, fmt.Errorf("action %s %s: %w", action.kind, action.selector, err)
		}
		step.Outcome = "ok"
		step.StateFingerprint, step.ValidationError = p.captureState(page)
		step.Elapsed = time.Since(start)
		steps = append(steps, step)
	}
	return steps, nil
}

// captureState fingerprints the current page state: URL without query,
// a DOM class derived from the title, and the visible text.
func (p *RodProber) captureState(page *rod.Page) (state, validationError string) {
	info, err := page.Info()
	if err != nil {
		return "", ""
	}
	text := ""
	if body, err := page.Element("body"); err == nil {
		if t, err := body.Text(); err == nil {
			text = t
		}
	}
	// Validation messages surface in role=alert or .error containers.
	if alert, err := page.Element(`[role="alert"], .error, .invalid-feedback`); err == nil {
		if msg, err := alert.Text(); err == nil {
			validationError = strings.TrimSpace(msg)
		}
	}
	baseURL := info.URL
	if idx := strings.IndexByte(baseURL, '?'); idx > 0 {
		baseURL = baseURL[:idx]
	}
	return fingerprint.State(baseURL, info.Title, text).String(), validationError
}

// scenarioAction is one parsed interaction hint.
type scenarioAction struct {
	kind     string
	selector string
	value    string
}

// parseActions splits "click:#save, fill:#name=Ada" style descriptions.
// Tokens without a recognized verb are ignored.
func parseActions(description string) []scenarioAction {
	var actions []scenarioAction
	for _, token := range strings.Split(description, ",") {
		token = strings.TrimSpace(token)
		verb, rest, ok := strings.Cut(token, ":")
		if !ok {
			continue
		}
		switch verb {
		case "click", "wait":
			actions = append(actions, scenarioAction{kind: verb, selector: strings.TrimSpace(rest)})
		case "fill":
			selector, value, _ := strings.Cut(rest, "=")
			actions = append(actions, scenarioAction{
				kind: verb, selector: strings.TrimSpace(selector), value: strings.TrimSpace(value),
			})
		}
	}
	return actions
}
