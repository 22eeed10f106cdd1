package advertiser

import (
	"fmt"
	"regexp"
	"strconv"

	"github.com/sereno-systems/mdnsd/dnssd"
)

var suffixPattern = regexp.MustCompile(`^(.*) \((\d+)\)$`)

// NextCandidateName returns the next name to try after name loses a
// probing or registered-name conflict, per RFC 6762 section 9: append "
// (2)" to an unadorned name, or increment the trailing "(n)" counter of a
// name that already carries one.
func NextCandidateName(name dnssd.InstanceName) dnssd.InstanceName {
	if m := suffixPattern.FindStringSubmatch(string(name)); m != nil {
		n, err := strconv.Atoi(m[2])
		if err == nil {
			return dnssd.InstanceName(fmt.Sprintf("%s (%d)", m[1], n+1))
		}
	}
	return dnssd.InstanceName(fmt.Sprintf("%s (2)", name))
}
