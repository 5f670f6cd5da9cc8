package parse

import (
	"errors"
	"fmt"
	"regexp"
	"strconv"
	"strings"
	"time"

	"thermal-status-backend/internal/model"
)

// MissingTemperature is stored when a full status report omits a sensor.
const MissingTemperature = -100.0

var (
	t1Re      = regexp.MustCompile(`T1:\s*([-+]?\d*\.?\d+)`)
	t2Re      = regexp.MustCompile(`T2:\s*([-+]?\d*\.?\d+)`)
	celsiusRe = regexp.MustCompile(`([-+]?\d+\.?\d*)C`)
)

// ErrUnrecognized is returned for bodies that match no known report prefix.
var ErrUnrecognized = errors.New("unrecognized report")

// AttributionError means the report kind was recognised but its payload
// could not be fully read. The returned Report is still applied.
type AttributionError struct {
	Kind string
	Body string
}

func (e *AttributionError) Error() string {
	return fmt.Sprintf("%s report without a temperature: %q", e.Kind, e.Body)
}

// Report is the device-state mutation carried by one SMS.
type Report struct {
	Kind         string
	Status       model.Status
	Temperature1 *float64
	Temperature2 *float64
	// Stamp sets UpdateDatetime when applied.
	Stamp bool
}

// Apply writes the fields the report names onto d.
func (r Report) Apply(d *model.Device, now time.Time) {
	d.Status = r.Status
	if r.Temperature1 != nil {
		v := *r.Temperature1
		d.Temperature1 = &v
	}
	if r.Temperature2 != nil {
		v := *r.Temperature2
		d.Temperature2 = &v
	}
	if r.Stamp {
		d.UpdateDatetime = now
	}
}

type rule struct {
	prefix string
	parse  func(body string) (Report, error)
}

// Prefixes are tried in order; the first match wins.
var rules = []rule{
	{"equipment is power on", func(string) (Report, error) {
		return Report{Kind: "power on", Status: model.StatusPoweredOn}, nil
	}},
	{"equipment is power off", func(string) (Report, error) {
		return Report{Kind: "power off", Status: model.StatusPoweredOff}, nil
	}},
	{"STATUS IS ALL", parseFullStatus},
	{"1st temp", func(body string) (Report, error) {
		return parseAlarm(body, "1st temp", model.StatusSensor1Overheat)
	}},
	{"2nd temp", func(body string) (Report, error) {
		return parseAlarm(body, "2nd temp", model.StatusSensor2Overheat)
	}},
}

// ParseReport interprets an SMS body by literal prefix.
func ParseReport(body string) (Report, error) {
	for _, r := range rules {
		if strings.HasPrefix(body, r.prefix) {
			return r.parse(body)
		}
	}
	return Report{}, ErrUnrecognized
}

func parseFullStatus(body string) (Report, error) {
	t1 := firstFloat(t1Re, body, MissingTemperature)
	t2 := firstFloat(t2Re, body, MissingTemperature)
	return Report{
		Kind:         "full status",
		Status:       model.StatusOK,
		Temperature1: &t1,
		Temperature2: &t2,
		Stamp:        true,
	}, nil
}

func parseAlarm(body, kind string, status model.Status) (Report, error) {
	rep := Report{Kind: kind, Status: status, Stamp: true}
	m := celsiusRe.FindStringSubmatch(body)
	if m == nil {
		return rep, &AttributionError{Kind: kind, Body: body}
	}
	v, err := strconv.ParseFloat(m[1], 64)
	if err != nil {
		return rep, &AttributionError{Kind: kind, Body: body}
	}
	if status == model.StatusSensor1Overheat {
		rep.Temperature1 = &v
	} else {
		rep.Temperature2 = &v
	}
	return rep, nil
}

func firstFloat(re *regexp.Regexp, s string, def float64) float64 {
	m := re.FindStringSubmatch(s)
	if m == nil {
		return def
	}
	v, err := strconv.ParseFloat(m[1], 64)
	if err != nil {
		return def
	}
	return v
}
