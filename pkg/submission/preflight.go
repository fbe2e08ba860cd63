package submission

import (
	"errors"
	"fmt"
	"os"
	"sync"

	"github.com/pdfcpu/pdfcpu/pkg/api"
	"github.com/pdfcpu/pdfcpu/pkg/pdfcpu/model"

	"dev/bravebird/form-submitter/pkg/models"
)

var disableConfigDir sync.Once

// CheckDocument parses the PDF at path and returns its page count. Problems are
// reported as upload errors so a bad payload fails before any browser starts.
func CheckDocument(path string) (int, error) {
	info, err := os.Stat(path)
	if err != nil {
		return 0, models.UploadError(fmt.Errorf("document %s: %w", path, err))
	}
	if info.IsDir() {
		return 0, models.UploadError(fmt.Errorf("document %s is a directory", path))
	}
	if info.Size() == 0 {
		return 0, models.UploadError(errors.New("document " + path + " is empty"))
	}

	disableConfigDir.Do(api.DisableConfigDir)

	conf := model.NewDefaultConfiguration()
	conf.ValidationMode = model.ValidationRelaxed
	if err := api.ValidateFile(path, conf); err != nil {
		return 0, models.UploadError(fmt.Errorf("document %s is not a valid PDF: %w", path, err))
	}
	pages, err := api.PageCountFile(path)
	if err != nil {
		return 0, models.UploadError(fmt.Errorf("document %s: %w", path, err))
	}
	return pages, nil
}
