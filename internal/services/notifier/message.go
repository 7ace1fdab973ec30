package notifier

import (
	"fmt"
	"strings"
	"time"

	"github.com/NordCoder/Pingwatch/internal/domain/alert"
	"github.com/NordCoder/Pingwatch/internal/domain/service"
)

func subject(svc service.Service, kind alert.Kind) string {
	if kind == alert.KindDown {
		return fmt.Sprintf("%s is DOWN", svc.Name)
	}
	return fmt.Sprintf("%s is back UP", svc.Name)
}

func summary(svc service.Service, kind alert.Kind, d alert.Details) string {
	var b strings.Builder
	if kind == alert.KindDown {
		fmt.Fprintf(&b, "🔴 %s is DOWN", svc.Name)
	} else {
		fmt.Fprintf(&b, "🟢 %s is back UP", svc.Name)
	}
	fmt.Fprintf(&b, "\nURL: %s", d.URL)
	fmt.Fprintf(&b, "\nTime: %s", d.Timestamp.Format(time.RFC3339))
	if d.Latency != nil {
		fmt.Fprintf(&b, "\nResponse time: %d ms", int(*d.Latency*1000))
	}
	if d.StatusCode != 0 {
		fmt.Fprintf(&b, "\nHTTP status: %d", d.StatusCode)
	}
	if d.Error != "" {
		fmt.Fprintf(&b, "\nError: %s", d.Error)
	}
	if kind == alert.KindDown && d.ConsecutiveDown > 1 {
		fmt.Fprintf(&b, "\nFailed checks in a row: %d", d.ConsecutiveDown)
	}
	return b.String()
}
