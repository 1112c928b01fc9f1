package events

import "sort"

// Kafka topics the reserve publishes to.
const (
	TopicParticipants  = "reserve_participants"
	TopicActivities    = "reserve_activities"
	TopicDistributions = "reserve_distributions"
	TopicAdmin         = "reserve_admin"
)

// Route says where a notification type is published.
type Route struct {
	Topic         string
	SchemaSubject string
}

type entry struct {
	topic   string
	payload any
}

var catalog = map[string]entry{
	TypeReserveInitialized:     {TopicAdmin, ReserveInitialized{}},
	TypeMinimumContributionSet: {TopicAdmin, MinimumContributionSet{}},
	TypeAdminTransferred:       {TopicAdmin, AdminTransferred{}},
	TypeParticipantJoined:      {TopicParticipants, ParticipantJoined{}},
	TypeParticipantExited:      {TopicParticipants, ParticipantExited{}},
	TypeCapitalDeposited:       {TopicParticipants, CapitalDeposited{}},
	TypeCapitalWithdrawn:       {TopicParticipants, CapitalWithdrawn{}},
	TypeActivityProposed:       {TopicActivities, ActivityProposed{}},
	TypeActivityApproved:       {TopicActivities, ActivityApproved{}},
	TypeActivityRejected:       {TopicActivities, ActivityRejected{}},
	TypeActivityCompleted:      {TopicActivities, ActivityCompleted{}},
	TypeProfitDistributed:      {TopicDistributions, ProfitDistributed{}},
	TypeLossDistributed:        {TopicDistributions, LossDistributed{}},
	TypeProfitSharePaid:        {TopicDistributions, ProfitSharePaid{}},
	TypeLossShareDeducted:      {TopicDistributions, LossShareDeducted{}},
}

// RouteFor returns the route of eventType. Each type has its own schema
// subject under the topic so one topic can carry several record shapes.
func RouteFor(eventType string) (Route, bool) {
	e, ok := catalog[eventType]
	if !ok {
		return Route{}, false
	}
	return Route{Topic: e.topic, SchemaSubject: e.topic + "-" + eventType}, true
}

// PayloadOf returns the zero value of the payload struct carried by eventType.
func PayloadOf(eventType string) (any, bool) {
	e, ok := catalog[eventType]
	return e.payload, ok
}

// Topics lists every topic in a stable order.
func Topics() []string {
	return []string{TopicAdmin, TopicParticipants, TopicActivities, TopicDistributions}
}

// Types lists every notification type in lexical order.
func Types() []string {
	out := make([]string, 0, len(catalog))
	for t := range catalog {
		out = append(out, t)
	}
	sort.Strings(out)
	return out
}
