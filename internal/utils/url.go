package utils

import (
	"net/url"
	"strings"
)

// AppendRef sets the referral query parameter on destination. Destinations
// that do not parse as absolute URLs get the parameter appended as text.
func AppendRef(destination, affiliateID string) string {
	u, err := url.Parse(destination)
	if err == nil && u.IsAbs() && u.Host != "" {
		q := u.Query()
		q.Set(ReferralQueryParam, affiliateID)
		u.RawQuery = q.Encode()
		return u.String()
	}

	sep := "?"
	if strings.Contains(destination, "?") {
		sep = "&"
	}
	return destination + sep + ReferralQueryParam + "=" + url.QueryEscape(affiliateID)
}
