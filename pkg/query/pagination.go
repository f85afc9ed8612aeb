package query

import (
	"strconv"
	"strings"

	"github.com/cascata/gateway/internal/apperror"
)

// Pagination carries the resolved LIMIT/OFFSET and response-shaping flags
// for a SELECT statement.
type Pagination struct {
	Limit        int // applied only when HasLimit is set
	Offset       int
	HasLimit     bool
	SingleObject bool // Accept: application/vnd.pgrst.object+json
	CountExact   bool // Prefer: count=exact
}

// ParsePagination resolves the Range header and limit/offset query
// parameters into a Pagination. Explicit limit/offset parameters override
// Range. An inverted Range (end before start) is rejected with a validation
// error. The Accept and Prefer headers select single-object unwrapping and
// exact counting respectively.
func ParsePagination(rangeHeader, limitParam, offsetParam, acceptHeader, preferHeader string) (Pagination, error) {
	p := Pagination{}

	if rangeHeader != "" {
		start, end, ok, err := parseRange(rangeHeader)
		if err != nil {
			return Pagination{}, err
		}
		if ok {
			p.Offset = start
			p.Limit = end - start + 1
			p.HasLimit = true
		}
	}

	if limitParam != "" {
		if n, err := strconv.Atoi(limitParam); err == nil {
			p.Limit = n
			p.HasLimit = true
		}
	}
	if offsetParam != "" {
		if n, err := strconv.Atoi(offsetParam); err == nil {
			p.Offset = n
		}
	}

	p.SingleObject = strings.Contains(acceptHeader, "application/vnd.pgrst.object+json")
	p.CountExact = strings.Contains(preferHeader, "count=exact")

	return p, nil
}

// parseRange parses a "start-end" Range header. A header that isn't two
// integers is ignored (ok=false); a well-formed but inverted window is an
// error rather than silently becoming "no range".
func parseRange(header string) (start, end int, ok bool, err error) {
	parts := strings.SplitN(header, "-", 2)
	if len(parts) != 2 {
		return 0, 0, false, nil
	}
	s, err1 := strconv.Atoi(strings.TrimSpace(parts[0]))
	e, err2 := strconv.Atoi(strings.TrimSpace(parts[1]))
	if err1 != nil || err2 != nil {
		return 0, 0, false, nil
	}
	if e < s {
		return 0, 0, false, apperror.New(apperror.Validation, "invalid Range header: end precedes start")
	}
	return s, e, true, nil
}

// ContentRange formats the Content-Range response header value for a
// result window of the given length starting at offset, out of total rows.
func ContentRange(offset, resultLen, total int) string {
	if resultLen == 0 {
		return strconv.Itoa(offset) + "-" + strconv.Itoa(offset) + "/" + strconv.Itoa(total)
	}
	return strconv.Itoa(offset) + "-" + strconv.Itoa(offset+resultLen-1) + "/" + strconv.Itoa(total)
}
