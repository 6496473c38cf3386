package usecase

import (
	"fmt"
	"sort"
	"strings"

	"postline/pkg/logger"
	"postline/pkg/queue"
)

// auditQueue receives every lifecycle event so operators get a durable
// trail of transitions in the service log.
const auditQueue = "postline.audit"

// StartAuditTrail binds a consumer for all post.* events and writes one
// log line per event. Nil-safe: without a broker there is no trail.
func StartAuditTrail(queueClient *queue.Client, log *logger.Logger) error {
	if queueClient == nil {
		return nil
	}
	return queueClient.ConsumeEvents(auditQueue, "post.#", func(routingKey string, payload map[string]interface{}) error {
		log.Info("[AUDIT] %s", auditLine(routingKey, payload))
		return nil
	})
}

// auditLine renders an event as "topic key=value ..." with keys sorted so
// the output is stable for log searching.
func auditLine(routingKey string, payload map[string]interface{}) string {
	keys := make([]string, 0, len(payload))
	for k := range payload {
		keys = append(keys, k)
	}
	sort.Strings(keys)

	var b strings.Builder
	b.WriteString(routingKey)
	for _, k := range keys {
		fmt.Fprintf(&b, " %s=%v", k, payload[k])
	}
	return b.String()
}
