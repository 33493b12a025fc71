package sweep

import (
	"errors"
	"fmt"
	"strings"

	"github.com/robfig/cron/v3"
)

var fiveFields = cron.NewParser(cron.Minute | cron.Hour | cron.Dom | cron.Month | cron.Dow | cron.Descriptor)

// ParseCron accepts the 5 field cron format and descriptors like @daily or
// @every 1h, the same set gocron accepts without seconds.
func ParseCron(expr string) (cron.Schedule, error) {
	e := strings.TrimSpace(expr)
	if e == "" {
		return nil, errors.New("empty cron expression")
	}
	sched, err := fiveFields.Parse(e)
	if err != nil {
		return nil, fmt.Errorf("cron expression %q: %w", e, err)
	}
	return sched, nil
}
