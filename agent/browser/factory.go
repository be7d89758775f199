package browser

import (
	"fmt"

	"github.com/BaSui01/autoheal/config"
	"go.uber.org/zap"
)

// Driver names accepted by New.
const (
	DriverChromeDP   = "chromedp"
	DriverPlaywright = "playwright"
)

// New launches the browser selected by cfg.Driver.
func New(cfg config.BrowserConfig, logger *zap.Logger) (Browser, error) {
	switch cfg.Driver {
	case DriverChromeDP, "":
		return NewChromeDPBrowser(cfg, logger)
	case DriverPlaywright:
		return NewPlaywrightBrowser(cfg, logger)
	default:
		return nil, fmt.Errorf("unsupported browser driver: %s", cfg.Driver)
	}
}
