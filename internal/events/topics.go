package events

// Topics emitted by cart and order flows. Emit refuses anything else so a typo
// never lands in domain_events.
const (
	TopicVoucherApplied = "cart.voucher_applied"
	TopicVoucherRemoved = "cart.voucher_removed"
	TopicCartMerged     = "cart.merged"
	TopicOrderCreated   = "order.created"
)

var knownTopics = map[string]bool{
	TopicVoucherApplied: true,
	TopicVoucherRemoved: true,
	TopicCartMerged:     true,
	TopicOrderCreated:   true,
}

// Known reports whether topic is one the service emits.
func Known(topic string) bool { return knownTopics[topic] }
