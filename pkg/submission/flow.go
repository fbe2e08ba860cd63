package submission

import (
	"context"
	"errors"
	"fmt"
	"time"

	"go.uber.org/zap"

	"dev/bravebird/form-submitter/pkg/browser"
	"dev/bravebird/form-submitter/pkg/locator"
	"dev/bravebird/form-submitter/pkg/models"
)

// FlowConfig tunes the form flow
type FlowConfig struct {
	// SuccessConditions are checked after submit; any one of them means success
	SuccessConditions []browser.Condition
	SuccessTimeout    time.Duration
	// MenuTimeout bounds the wait for either the category menu or the form after
	// clicking "create submission"
	MenuTimeout time.Duration
}

// DefaultFlowConfig waits for the confirmation page's "Done" link
func DefaultFlowConfig() FlowConfig {
	return FlowConfig{
		SuccessConditions: []browser.Condition{{Field: locator.FieldSuccess}},
		SuccessTimeout:    20 * time.Second,
		MenuTimeout:       10 * time.Second,
	}
}

// fillForm runs one pass over the new-submission form and returns the uploaded file
func (o *Orchestrator) fillForm(ctx context.Context, t models.Target) (string, error) {
	s := o.session
	logger := o.logger.With(zap.String("url", t.URL))

	if err := s.Navigate(ctx, t.URL); err != nil {
		return "", err
	}

	create, err := s.Locate(ctx, locator.FieldCreateSubmission)
	if err != nil {
		return "", err
	}
	if err := s.Click(ctx, create); err != nil {
		return "", err
	}

	if err := o.pickCategory(ctx, t.Payload); err != nil {
		return "", err
	}

	if _, err := s.Locate(ctx, locator.FieldForm); err != nil {
		return "", err
	}
	if dismissed, err := s.DismissDialog(ctx); err != nil {
		return "", err
	} else if dismissed {
		logger.Debug("Dismissed dialog on form load")
	}

	if err := o.fill(ctx, locator.FieldTitle, t.Payload.Title); err != nil {
		return "", err
	}
	if err := o.fill(ctx, locator.FieldAbstract, t.Payload.Abstract); err != nil {
		return "", err
	}
	if err := o.tickCheckboxes(ctx); err != nil {
		return "", err
	}

	upload, err := s.Locate(ctx, locator.FieldUploadButton)
	if err != nil {
		return "", err
	}
	uploaded, err := s.UploadFile(ctx, upload, t.Payload.PDFPath, browser.UploadOptions{PrimeDirectory: !o.uploadPrimed})
	if err != nil {
		return "", err
	}
	o.uploadPrimed = true
	logger.Debug("Uploaded file", zap.String("file", uploaded))

	submit, err := s.Locate(ctx, locator.FieldSubmitButton)
	if err != nil {
		return uploaded, err
	}
	// A click that lost its window may still have submitted the form
	if err := s.Click(ctx, submit); err != nil && !models.IsKind(err, models.KindSessionLost) {
		return uploaded, err
	}

	cond, err := o.awaitConfirmation(ctx, logger)
	if err != nil {
		return uploaded, err
	}
	logger.Debug("Submission confirmed", zap.Stringer("condition", cond))

	// The confirmation page may offer a "Done" link; it is not required
	if done, err := s.LocateAll(ctx, locator.FieldDoneButton); err == nil && len(done) > 0 {
		if err := s.Click(ctx, done[0]); err != nil {
			logger.Debug("Could not click done", zap.Error(err))
		}
	}
	return uploaded, nil
}

// awaitConfirmation waits for a success condition. Some sites close the form's window on
// submit; the confirmation is then looked for on the page left open.
func (o *Orchestrator) awaitConfirmation(ctx context.Context, logger *zap.Logger) (browser.Condition, error) {
	s := o.session
	cond, err := s.WaitUntil(ctx, o.flow.SuccessTimeout, o.flow.SuccessConditions...)
	if !models.IsKind(err, models.KindSessionLost) {
		return cond, err
	}

	adopted, aerr := s.AdoptOpenPage(ctx)
	if aerr != nil {
		logger.Warn("Could not look for another open page", zap.Error(aerr))
		return cond, err
	}
	if !adopted {
		return cond, err
	}
	logger.Info("Form window closed after submit, checking the remaining page")
	return s.WaitUntil(ctx, o.flow.SuccessTimeout, o.flow.SuccessConditions...)
}

func (o *Orchestrator) fill(ctx context.Context, field locator.FieldID, value string) error {
	el, err := o.session.Locate(ctx, field)
	if err != nil {
		return err
	}
	return o.session.SetText(ctx, el, value)
}

// pickCategory chooses the payload's category when the site shows a category menu.
// Sites that go straight to the form are fine.
func (o *Orchestrator) pickCategory(ctx context.Context, p models.Payload) error {
	s := o.session
	cond, err := s.WaitUntil(ctx, o.flow.MenuTimeout,
		browser.Condition{Field: locator.FieldDropdownMenu},
		browser.Condition{Field: locator.FieldForm},
	)
	if err != nil {
		return err
	}
	if cond.Field != locator.FieldDropdownMenu {
		return nil
	}

	links, err := s.LocateAll(ctx, locator.FieldCategoryLink)
	if err != nil {
		return err
	}
	options := make([]string, 0, len(links))
	for _, l := range links {
		text, err := s.Text(ctx, l)
		if err != nil {
			return err
		}
		options = append(options, text)
	}

	wants := p.Categories()
	match, ok := locator.MatchCategory(options, wants)
	if !ok {
		return models.ElementNotFound(string(locator.FieldCategoryLink), false,
			fmt.Errorf("none of %q offered, menu has %q", wants, options))
	}
	o.logger.Debug("Picked category", zap.String("want", match.Want), zap.String("option", match.Option), zap.Bool("exact", match.Exact))
	return s.Click(ctx, links[match.Index])
}

// tickCheckboxes ticks every visible, unchecked agreement box
func (o *Orchestrator) tickCheckboxes(ctx context.Context) error {
	s := o.session
	boxes, err := s.LocateAll(ctx, locator.FieldCheckbox)
	if err != nil {
		return err
	}
	for _, box := range boxes {
		state, err := s.State(ctx, box)
		if err != nil {
			if models.IsKind(err, models.KindSessionLost) || errors.Is(err, context.Canceled) {
				return err
			}
			o.logger.Debug("Skipping checkbox", zap.String("element", box.Describe()), zap.Error(err))
			continue
		}
		if !state.Visible || state.Checked {
			continue
		}
		if err := s.Click(ctx, box); err != nil {
			return err
		}
	}
	return nil
}
