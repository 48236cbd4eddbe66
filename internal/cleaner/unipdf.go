package cleaner

import (
	"github.com/unidoc/unipdf/v3/common"
	"github.com/unidoc/unipdf/v3/common/license"
)

// SetLicenseKey registers a unipdf license key for the named customer. An
// empty key is a no-op: the library runs unlicensed, which this release
// permits.
func SetLicenseKey(key, customer string) error {
	if key == "" {
		return nil
	}
	return license.SetLicenseKey(key, customer)
}

// ConfigureLogging bridges unipdf's internal logger to the console at a
// level matching ours. Without this the library stays silent even when its
// parser hits recoverable trouble.
func ConfigureLogging(debug bool) {
	if debug {
		common.SetLogger(common.NewConsoleLogger(common.LogLevelDebug))
	} else {
		common.SetLogger(common.NewConsoleLogger(common.LogLevelError))
	}
}
