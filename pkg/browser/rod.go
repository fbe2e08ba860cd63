package browser

import (
	"context"
	"errors"
	"fmt"
	"os"
	"regexp"
	"strings"
	"sync"
	"time"

	"github.com/go-rod/rod"
	"github.com/go-rod/rod/lib/launcher"
	"github.com/go-rod/rod/lib/launcher/flags"
	"github.com/go-rod/rod/lib/proto"
	"go.uber.org/zap"

	"dev/bravebird/form-submitter/pkg/locator"
	"dev/bravebird/form-submitter/pkg/models"
)

// Config holds browser launch settings and per-call timeouts
type Config struct {
	Bin      string   `mapstructure:"bin"`
	Headless bool     `mapstructure:"headless"`
	Flags    []string `mapstructure:"flags"`

	LoginURL     string `mapstructure:"login_url"`
	LoginSuccess string `mapstructure:"login_success"`

	NavigateTimeout time.Duration `mapstructure:"navigate_timeout"`
	ActionTimeout   time.Duration `mapstructure:"action_timeout"`
	LoginTimeout    time.Duration `mapstructure:"login_timeout"`
	// ElementWait is how long Locate keeps looking before giving up on a field
	ElementWait  time.Duration `mapstructure:"element_wait"`
	PollInterval time.Duration `mapstructure:"poll_interval"`
}

// DefaultConfig returns settings for the conference management site
func DefaultConfig() Config {
	return Config{
		Headless:        true,
		Flags:           []string{"no-sandbox", "disable-gpu", "disable-dev-shm-usage"},
		LoginURL:        "https://cmt3.research.microsoft.com/User/Login?ReturnUrl=%2FConference%2FRecent",
		LoginSuccess:    "/Conference/Recent",
		NavigateTimeout: 30 * time.Second,
		ActionTimeout:   10 * time.Second,
		LoginTimeout:    20 * time.Second,
		ElementWait:     10 * time.Second,
		PollInterval:    250 * time.Millisecond,
	}
}

// rodElement wraps a rod element with the rule that found it
type rodElement struct {
	el   *rod.Element
	rule locator.Rule
}

func (e *rodElement) Describe() string {
	return e.rule.String()
}

// RodSession implements Session on a local Chrome driven by go-rod
type RodSession struct {
	cfg      Config
	strategy locator.Strategy
	logger   *zap.Logger

	mu       sync.Mutex
	launcher *launcher.Launcher
	browser  *rod.Browser
	page     *rod.Page

	upload uploadState
}

// NewRodSession launches a browser and opens a blank page
func NewRodSession(ctx context.Context, cfg Config, strategy locator.Strategy, logger *zap.Logger) (*RodSession, error) {
	if logger == nil {
		logger = zap.NewNop()
	}
	if cfg.PollInterval <= 0 {
		cfg.PollInterval = DefaultConfig().PollInterval
	}
	s := &RodSession{
		cfg:      cfg,
		strategy: strategy,
		logger:   logger.Named("browser"),
	}
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	if err := s.launch(); err != nil {
		return nil, err
	}
	return s, nil
}

func (s *RodSession) launch() error {
	l := launcher.New()

	// Use CHROME_BIN if set (Docker environment)
	bin := s.cfg.Bin
	if bin == "" {
		bin = os.Getenv("CHROME_BIN")
	}
	if bin != "" {
		l = l.Bin(bin)
	}

	l = l.Headless(s.cfg.Headless)
	for _, f := range s.cfg.Flags {
		name, value, _ := strings.Cut(f, "=")
		if value != "" {
			l = l.Set(flags.Flag(name), value)
		} else {
			l = l.Set(flags.Flag(name))
		}
	}

	url, err := l.Launch()
	if err != nil {
		return fmt.Errorf("failed to launch browser: %w", err)
	}

	b := rod.New().ControlURL(url)
	if err := b.Connect(); err != nil {
		l.Kill()
		return fmt.Errorf("failed to connect to browser: %w", err)
	}

	page, err := b.Page(proto.TargetCreateTarget{URL: "about:blank"})
	if err != nil {
		b.Close()
		l.Kill()
		return fmt.Errorf("failed to create page: %w", err)
	}

	s.mu.Lock()
	s.launcher, s.browser, s.page = l, b, page
	s.mu.Unlock()

	s.logger.Info("Browser session created", zap.Bool("headless", s.cfg.Headless))
	return nil
}

func (s *RodSession) currentPage() (*rod.Page, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.page == nil {
		return nil, models.SessionLost("page", errors.New("browser session closed"))
	}
	return s.page, nil
}

func (s *RodSession) element(el Element) (*rodElement, error) {
	re, ok := el.(*rodElement)
	if !ok || re == nil {
		return nil, fmt.Errorf("element %T does not belong to this session", el)
	}
	return re, nil
}

// Login signs in through the login page and waits for the post-login URL
func (s *RodSession) Login(ctx context.Context, creds models.Credentials) error {
	if creds.Username == "" || creds.Password == "" {
		return models.AuthError(errors.New("username and password are required"))
	}
	if err := s.Navigate(ctx, s.cfg.LoginURL); err != nil {
		return err
	}

	fill := func(field locator.FieldID, value string) error {
		el, err := s.Locate(ctx, field)
		if err != nil {
			return err
		}
		return s.SetText(ctx, el, value)
	}
	if err := fill(locator.FieldUsername, creds.Username); err != nil {
		return loginError(err)
	}
	if err := fill(locator.FieldPassword, creds.Password); err != nil {
		return loginError(err)
	}

	btn, err := s.Locate(ctx, locator.FieldLoginButton)
	if err != nil {
		return loginError(err)
	}
	if err := s.Click(ctx, btn); err != nil {
		return err
	}

	_, err = s.WaitUntil(ctx, s.cfg.LoginTimeout, Condition{URLContains: s.cfg.LoginSuccess})
	if err != nil {
		return loginWaitError(s.cfg.LoginSuccess, err)
	}

	s.logger.Info("Logged in", zap.String("username", creds.Username))
	return nil
}

// loginError treats a login page without its form as rejected credentials
func loginError(err error) error {
	if models.IsKind(err, models.KindElementNotFound) && !models.IsTransient(err) {
		return models.AuthError(err)
	}
	return err
}

// loginWaitError treats never reaching the post-login page as rejected credentials
func loginWaitError(success string, err error) error {
	if models.IsKind(err, models.KindTimeout) {
		return models.AuthError(fmt.Errorf("login did not reach %s: %w", success, err))
	}
	return err
}

// Navigate loads url and waits for the load event
func (s *RodSession) Navigate(ctx context.Context, url string) error {
	page, err := s.currentPage()
	if err != nil {
		return err
	}

	tctx, cancel := context.WithTimeout(ctx, s.cfg.NavigateTimeout)
	defer cancel()

	p := page.Context(tctx)
	if err := p.Navigate(url); err != nil {
		return navError(url, err)
	}
	if err := p.WaitLoad(); err != nil {
		return navError(url, err)
	}
	return nil
}

func navError(url string, err error) error {
	err = classify("navigate", err)
	if models.IsKind(err, models.KindNavigation) {
		return models.NavigationError(url, errors.Unwrap(err))
	}
	return err
}

// Locate polls the field's rules until one matches or ElementWait runs out
func (s *RodSession) Locate(ctx context.Context, field locator.FieldID) (Element, error) {
	page, err := s.currentPage()
	if err != nil {
		return nil, err
	}

	deadline := time.Now().Add(s.cfg.ElementWait)
	for {
		el, err := locator.Resolve[*rodElement](ctx, s.strategy, field, s.finder(page))
		if err == nil {
			return el, nil
		}
		if !models.IsKind(err, models.KindElementNotFound) {
			return nil, err
		}
		if !time.Now().Before(deadline) {
			return nil, s.notFound(ctx, page, field, err)
		}

		select {
		case <-ctx.Done():
			return nil, ctx.Err()
		case <-time.After(s.cfg.PollInterval):
		}
	}
}

// notFound marks the miss transient when the document had not finished loading
func (s *RodSession) notFound(ctx context.Context, page *rod.Page, field locator.FieldID, cause error) error {
	tctx, cancel := context.WithTimeout(ctx, s.cfg.ActionTimeout)
	defer cancel()

	state := ""
	if res, err := page.Context(tctx).Eval(`() => document.readyState`); err == nil {
		state = res.Value.Str()
	}
	return missingElement(field, state, cause)
}

// missingElement builds the ElementNotFound for a field. An unknown readyState counts
// as loaded.
func missingElement(field locator.FieldID, readyState string, cause error) error {
	loading := readyState != "" && readyState != "complete"
	return models.ElementNotFound(string(field), loading, errors.Unwrap(cause))
}

// LocateAll returns the matches of the first rule that matches anything, without waiting
func (s *RodSession) LocateAll(ctx context.Context, field locator.FieldID) ([]Element, error) {
	page, err := s.currentPage()
	if err != nil {
		return nil, err
	}
	els, err := locator.ResolveAll[*rodElement](ctx, s.strategy, field, s.finder(page))
	if err != nil {
		return nil, err
	}
	out := make([]Element, 0, len(els))
	for _, el := range els {
		out = append(out, el)
	}
	return out, nil
}

func (s *RodSession) finder(page *rod.Page) locator.FinderFunc[*rodElement] {
	return func(ctx context.Context, rule locator.Rule) ([]*rodElement, error) {
		tctx, cancel := context.WithTimeout(ctx, s.cfg.ActionTimeout)
		defer cancel()
		p := page.Context(tctx)

		var els rod.Elements
		var err error
		switch rule.Kind {
		case locator.KindCSS:
			els, err = p.Elements(rule.Expr)
		case locator.KindXPath:
			els, err = p.ElementsX(rule.Expr)
		case locator.KindText:
			els, err = p.Elements(rule.Expr)
			if err == nil {
				els, err = filterText(els, rule.Pattern)
			}
		default:
			return nil, fmt.Errorf("unsupported rule kind %q", rule.Kind)
		}
		if err != nil {
			return nil, classify("locate", err)
		}

		out := make([]*rodElement, 0, len(els))
		for _, el := range els {
			out = append(out, &rodElement{el: el, rule: rule})
		}
		return out, nil
	}
}

func filterText(els rod.Elements, pattern string) (rod.Elements, error) {
	re, err := regexp.Compile(pattern)
	if err != nil {
		return nil, fmt.Errorf("invalid text pattern: %w", err)
	}
	var out rod.Elements
	for _, el := range els {
		text, err := el.Text()
		if err != nil {
			return nil, err
		}
		if re.MatchString(strings.TrimSpace(text)) {
			out = append(out, el)
		}
	}
	return out, nil
}

// Text returns the element's visible text
func (s *RodSession) Text(ctx context.Context, el Element) (string, error) {
	re, err := s.element(el)
	if err != nil {
		return "", err
	}
	tctx, cancel := context.WithTimeout(ctx, s.cfg.ActionTimeout)
	defer cancel()

	text, err := re.el.Context(tctx).Text()
	if err != nil {
		return "", classify("text", err)
	}
	return strings.TrimSpace(text), nil
}

// State reports visibility and, for checkboxes, whether the box is ticked
func (s *RodSession) State(ctx context.Context, el Element) (ElementState, error) {
	re, err := s.element(el)
	if err != nil {
		return ElementState{}, err
	}
	tctx, cancel := context.WithTimeout(ctx, s.cfg.ActionTimeout)
	defer cancel()
	e := re.el.Context(tctx)

	visible, err := e.Visible()
	if err != nil {
		return ElementState{}, classify("state", err)
	}
	checked, err := e.Property("checked")
	if err != nil {
		return ElementState{}, classify("state", err)
	}
	return ElementState{Visible: visible, Checked: checked.Bool()}, nil
}

// SetText replaces the element's value
func (s *RodSession) SetText(ctx context.Context, el Element, value string) error {
	re, err := s.element(el)
	if err != nil {
		return err
	}
	tctx, cancel := context.WithTimeout(ctx, s.cfg.ActionTimeout)
	defer cancel()
	e := re.el.Context(tctx)

	if err := e.SelectAllText(); err != nil {
		return classify("set_text", err)
	}
	if err := e.Input(value); err != nil {
		return classify("set_text", err)
	}
	return nil
}

// Click scrolls the element into view and clicks it
func (s *RodSession) Click(ctx context.Context, el Element) error {
	re, err := s.element(el)
	if err != nil {
		return err
	}
	tctx, cancel := context.WithTimeout(ctx, s.cfg.ActionTimeout)
	defer cancel()
	e := re.el.Context(tctx)

	if err := e.ScrollIntoView(); err != nil {
		return classify("click", err)
	}
	if err := e.Click(proto.InputMouseButtonLeft, 1); err != nil {
		return classify("click", err)
	}
	return nil
}

// UploadFile attaches path either straight to a file input or through the file chooser
// opened by clicking el
func (s *RodSession) UploadFile(ctx context.Context, el Element, path string, opts UploadOptions) (string, error) {
	re, err := s.element(el)
	if err != nil {
		return "", err
	}
	page, err := s.currentPage()
	if err != nil {
		return "", err
	}

	plan, err := s.upload.prepare(path, opts.PrimeDirectory)
	if err != nil {
		return "", models.UploadError(err)
	}
	if plan.primed {
		s.logger.Info("Upload directory set", zap.String("dir", s.upload.directory()))
	}

	tctx, cancel := context.WithTimeout(ctx, s.cfg.ActionTimeout)
	defer cancel()
	e := re.el.Context(tctx)

	typ, err := e.Attribute("type")
	if err != nil {
		return "", uploadError(err)
	}
	if typ != nil && *typ == "file" {
		if err := e.SetFiles([]string{plan.abs}); err != nil {
			return "", uploadError(err)
		}
		return plan.path, nil
	}

	wait, err := page.Context(tctx).HandleFileDialog()
	if err != nil {
		return "", uploadError(err)
	}
	if err := e.Click(proto.InputMouseButtonLeft, 1); err != nil {
		return "", uploadError(err)
	}
	if err := wait([]string{plan.abs}); err != nil {
		return "", uploadError(err)
	}
	return plan.path, nil
}

func uploadError(err error) error {
	err = classify("upload", err)
	switch models.KindOf(err) {
	case models.KindSessionLost, models.KindTimeout:
		return err
	}
	if errors.Is(err, context.Canceled) {
		return err
	}
	return models.UploadError(err)
}

// WaitUntil polls the conditions until one holds or timeout passes
func (s *RodSession) WaitUntil(ctx context.Context, timeout time.Duration, conds ...Condition) (Condition, error) {
	page, err := s.currentPage()
	if err != nil {
		return Condition{}, err
	}
	if len(conds) == 0 {
		return Condition{}, errors.New("no conditions to wait for")
	}

	deadline := time.Now().Add(timeout)
	for {
		for _, c := range conds {
			ok, err := s.holds(ctx, page, c)
			if err != nil {
				return Condition{}, err
			}
			if ok {
				return c, nil
			}
		}
		if !time.Now().Before(deadline) {
			return Condition{}, models.TimeoutError("wait", fmt.Errorf("none of %v held within %s", conds, timeout))
		}

		select {
		case <-ctx.Done():
			return Condition{}, ctx.Err()
		case <-time.After(s.cfg.PollInterval):
		}
	}
}

func (s *RodSession) holds(ctx context.Context, page *rod.Page, c Condition) (bool, error) {
	if c.URLContains != "" {
		tctx, cancel := context.WithTimeout(ctx, s.cfg.ActionTimeout)
		defer cancel()
		info, err := page.Context(tctx).Info()
		if err != nil {
			return false, classify("wait", err)
		}
		return strings.Contains(info.URL, c.URLContains), nil
	}

	_, err := locator.Resolve[*rodElement](ctx, s.strategy, c.Field, s.finder(page))
	if models.IsKind(err, models.KindElementNotFound) {
		return false, nil
	}
	return err == nil, err
}

// DismissDialog cancels an open alert, confirm or prompt
func (s *RodSession) DismissDialog(ctx context.Context) (bool, error) {
	page, err := s.currentPage()
	if err != nil {
		return false, err
	}
	tctx, cancel := context.WithTimeout(ctx, s.cfg.ActionTimeout)
	defer cancel()

	err = proto.PageHandleJavaScriptDialog{Accept: false}.Call(page.Context(tctx))
	if err != nil {
		if strings.Contains(strings.ToLower(err.Error()), "no dialog") {
			return false, nil
		}
		return false, classify("dialog", err)
	}
	return true, nil
}

// Snapshot captures URL, HTML and a full-page PNG. Parts that fail are left empty.
func (s *RodSession) Snapshot(ctx context.Context) (Snapshot, error) {
	page, err := s.currentPage()
	if err != nil {
		return Snapshot{}, err
	}
	tctx, cancel := context.WithTimeout(ctx, s.cfg.ActionTimeout)
	defer cancel()
	p := page.Context(tctx)

	snap := Snapshot{TakenAt: time.Now()}
	var errs []error

	if info, err := p.Info(); err == nil {
		snap.URL = info.URL
	} else {
		errs = append(errs, fmt.Errorf("failed to read url: %w", err))
	}
	if html, err := p.HTML(); err == nil {
		snap.HTML = html
	} else {
		errs = append(errs, fmt.Errorf("failed to read html: %w", err))
	}
	data, err := p.Screenshot(true, &proto.PageCaptureScreenshot{
		Format: proto.PageCaptureScreenshotFormatPng,
	})
	if err == nil {
		snap.Screenshot = data
	} else {
		errs = append(errs, fmt.Errorf("failed to take screenshot: %w", err))
	}

	return snap, errors.Join(errs...)
}

// AdoptOpenPage switches to the newest open tab other than the current one. It reports
// false when the browser has no other tab or is gone altogether.
func (s *RodSession) AdoptOpenPage(ctx context.Context) (bool, error) {
	s.mu.Lock()
	b, current := s.browser, s.page
	s.mu.Unlock()
	if b == nil {
		return false, nil
	}

	tctx, cancel := context.WithTimeout(ctx, s.cfg.ActionTimeout)
	defer cancel()

	pages, err := b.Context(tctx).Pages()
	if err != nil {
		if isSessionLost(err) {
			return false, nil
		}
		return false, classify("adopt_page", err)
	}

	for i := len(pages) - 1; i >= 0; i-- {
		p := pages[i]
		if current != nil && p.TargetID == current.TargetID {
			continue
		}
		info, err := p.Context(tctx).Info()
		if err != nil {
			continue
		}
		s.mu.Lock()
		s.page = p.Context(context.Background())
		s.mu.Unlock()
		s.logger.Info("Switched to open page", zap.String("url", info.URL))
		return true, nil
	}
	return false, nil
}

// Restart closes whatever is left of the browser and launches a new one
func (s *RodSession) Restart(ctx context.Context) error {
	s.logger.Warn("Restarting browser session")
	if err := s.Close(); err != nil {
		s.logger.Debug("Ignoring error closing dead browser", zap.Error(err))
	}
	s.upload.reset()
	if err := ctx.Err(); err != nil {
		return err
	}
	return s.launch()
}

// Close shuts the browser down and removes its profile directory
func (s *RodSession) Close() error {
	s.mu.Lock()
	b, l := s.browser, s.launcher
	s.browser, s.page, s.launcher = nil, nil, nil
	s.mu.Unlock()

	var err error
	if b != nil {
		err = b.Close()
	}
	if l != nil {
		l.Kill()
		l.Cleanup()
	}
	return err
}
