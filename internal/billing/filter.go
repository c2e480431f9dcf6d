// Package billing shapes billing provider objects stored on accounts and
// tears down subscriptions when an account is removed.
package billing

var (
	customerFields = []string{"id", "metadata", "email", "balance"}

	subscriptionFields = []string{
		"id", "metadata", "cancel_at_period_end", "current_period_end",
		"current_period_start", "latest_invoice", "status", "cancel_at",
		"canceled_at", "created", "days_until_due", "trial_start", "trial_end",
		"start_date",
	}

	itemFields = []string{"id", "object"}

	planFields = []string{"id", "active", "currency", "interval", "interval_count", "trial_period_days"}
)

// FilterCustomer keeps the allow-listed customer fields.
func FilterCustomer(customer map[string]any) map[string]any {
	return pick(customer, customerFields)
}

// FilterSubscription keeps the allow-listed subscription fields and reduces
// items.data to the item id, object and plan summary.
func FilterSubscription(subscription map[string]any) map[string]any {
	out := pick(subscription, subscriptionFields)

	var data []any
	if items, ok := subscription["items"].(map[string]any); ok {
		data, _ = items["data"].([]any)
	}
	filtered := make([]any, 0, len(data))
	for _, raw := range data {
		item, ok := raw.(map[string]any)
		if !ok {
			continue
		}
		entry := pick(item, itemFields)
		plan, _ := item["plan"].(map[string]any)
		entry["plan"] = pick(plan, planFields)
		filtered = append(filtered, entry)
	}
	out["items"] = filtered
	return out
}

// Normalize fills missing billing sub-objects with empty maps.
func Normalize(billing map[string]any) map[string]any {
	out := map[string]any{}
	for k, v := range billing {
		out[k] = v
	}
	for _, key := range []string{"customer", "subscription"} {
		if _, ok := out[key].(map[string]any); !ok {
			out[key] = map[string]any{}
		}
	}
	return out
}

func pick(src map[string]any, fields []string) map[string]any {
	out := make(map[string]any, len(fields))
	for _, f := range fields {
		if v, ok := src[f]; ok {
			out[f] = v
		}
	}
	return out
}
