package submission

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"dev/bravebird/form-submitter/pkg/browser"
	"dev/bravebird/form-submitter/pkg/locator"
	"dev/bravebird/form-submitter/pkg/models"
)

type fakeElement struct {
	field locator.FieldID
	index int
	text  string
}

func (e *fakeElement) Describe() string {
	return fmt.Sprintf("%s[%d]", e.field, e.index)
}

// fakePage describes what a target URL renders
type fakePage struct {
	categories []string // a category menu is shown when set
	checkboxes []browser.ElementState
	dialog     bool
}

type uploadCall struct {
	url   string
	path  string
	prime bool
}

// fakeSession scripts a browser. Errors queued with failOn are returned, one per call,
// by the named operation while the named URL is loaded.
type fakeSession struct {
	mu sync.Mutex

	pages   map[string]*fakePage
	current string
	errs    map[string][]error

	logins      int
	navigations []string
	clicks      []string
	texts       map[string]string
	uploads     []uploadCall
	restarts    int
	closed      bool

	// openPages is how many other tabs AdoptOpenPage can switch to
	openPages int
	adoptions int

	onNavigate func(url string)
}

func newFakeSession() *fakeSession {
	return &fakeSession{
		pages: make(map[string]*fakePage),
		errs:  make(map[string][]error),
		texts: make(map[string]string),
	}
}

func (f *fakeSession) page(url string, p *fakePage) *fakeSession {
	f.pages[url] = p
	return f
}

// failOn queues errors for op ("login", "navigate", "upload", "submit", or a locator field)
func (f *fakeSession) failOn(url, op string, errs ...error) *fakeSession {
	k := url + "|" + op
	f.errs[k] = append(f.errs[k], errs...)
	return f
}

func (f *fakeSession) pop(url, op string) error {
	k := url + "|" + op
	q := f.errs[k]
	if len(q) == 0 {
		return nil
	}
	f.errs[k] = q[1:]
	return q[0]
}

func (f *fakeSession) currentPage() *fakePage {
	if p, ok := f.pages[f.current]; ok {
		return p
	}
	return &fakePage{}
}

func (f *fakeSession) Login(_ context.Context, creds models.Credentials) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.logins++
	if err := f.pop("", "login"); err != nil {
		return err
	}
	if creds.Username == "" {
		return models.AuthError(errors.New("no username"))
	}
	return nil
}

func (f *fakeSession) Navigate(_ context.Context, url string) error {
	f.mu.Lock()
	f.navigations = append(f.navigations, url)
	f.current = url
	err := f.pop(url, "navigate")
	hook := f.onNavigate
	f.mu.Unlock()

	if hook != nil {
		hook(url)
	}
	return err
}

func (f *fakeSession) Locate(_ context.Context, field locator.FieldID) (browser.Element, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if err := f.pop(f.current, string(field)); err != nil {
		return nil, err
	}
	return &fakeElement{field: field}, nil
}

func (f *fakeSession) LocateAll(_ context.Context, field locator.FieldID) ([]browser.Element, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	p := f.currentPage()

	var out []browser.Element
	switch field {
	case locator.FieldCategoryLink:
		for i, c := range p.categories {
			out = append(out, &fakeElement{field: field, index: i, text: c})
		}
	case locator.FieldCheckbox:
		for i := range p.checkboxes {
			out = append(out, &fakeElement{field: field, index: i})
		}
	case locator.FieldDoneButton:
		out = append(out, &fakeElement{field: field})
	}
	return out, nil
}

func (f *fakeSession) Text(_ context.Context, el browser.Element) (string, error) {
	return el.(*fakeElement).text, nil
}

func (f *fakeSession) State(_ context.Context, el browser.Element) (browser.ElementState, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	e := el.(*fakeElement)
	return f.currentPage().checkboxes[e.index], nil
}

func (f *fakeSession) SetText(_ context.Context, el browser.Element, value string) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.texts[f.current+"|"+string(el.(*fakeElement).field)] = value
	return nil
}

func (f *fakeSession) Click(_ context.Context, el browser.Element) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	e := el.(*fakeElement)
	switch e.field {
	case locator.FieldSubmitButton:
		if err := f.pop(f.current, "submit"); err != nil {
			return err
		}
	case locator.FieldCheckbox:
		f.currentPage().checkboxes[e.index].Checked = true
	}
	label := string(e.field)
	if e.text != "" {
		label += ":" + e.text
	}
	f.clicks = append(f.clicks, f.current+"|"+label)
	return nil
}

func (f *fakeSession) UploadFile(_ context.Context, _ browser.Element, path string, opts browser.UploadOptions) (string, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if err := f.pop(f.current, "upload"); err != nil {
		return "", err
	}
	f.uploads = append(f.uploads, uploadCall{url: f.current, path: path, prime: opts.PrimeDirectory})
	return path, nil
}

func (f *fakeSession) WaitUntil(_ context.Context, _ time.Duration, conds ...browser.Condition) (browser.Condition, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	for _, c := range conds {
		switch c.Field {
		case locator.FieldDropdownMenu:
			if len(f.currentPage().categories) > 0 {
				return c, nil
			}
		case locator.FieldForm:
			return c, nil
		default:
			if err := f.pop(f.current, "confirm"); err != nil {
				return browser.Condition{}, err
			}
			return c, nil
		}
	}
	return browser.Condition{}, models.TimeoutError("wait", errors.New("nothing matched"))
}

func (f *fakeSession) DismissDialog(context.Context) (bool, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	p := f.currentPage()
	had := p.dialog
	p.dialog = false
	return had, nil
}

func (f *fakeSession) Snapshot(context.Context) (browser.Snapshot, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	return browser.Snapshot{
		URL:        f.current,
		HTML:       "<html><body>form</body></html>",
		Screenshot: []byte{0x89, 'P', 'N', 'G'},
		TakenAt:    time.Date(2024, 1, 2, 3, 4, 5, 0, time.UTC),
	}, nil
}

func (f *fakeSession) AdoptOpenPage(context.Context) (bool, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.adoptions++
	if f.openPages == 0 {
		return false, nil
	}
	f.openPages--
	return true, nil
}

func (f *fakeSession) Restart(context.Context) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.restarts++
	return nil
}

func (f *fakeSession) Close() error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.closed = true
	return nil
}

func (f *fakeSession) navigationsTo(url string) int {
	f.mu.Lock()
	defer f.mu.Unlock()
	n := 0
	for _, u := range f.navigations {
		if u == url {
			n++
		}
	}
	return n
}

func (f *fakeSession) clicksOn(url string, field locator.FieldID) int {
	f.mu.Lock()
	defer f.mu.Unlock()
	n := 0
	for _, c := range f.clicks {
		if c == url+"|"+string(field) {
			n++
		}
	}
	return n
}
