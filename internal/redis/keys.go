package redisx

const ns = "eventease:v1"

func ChannelEventsChanged() string {
	return ns + ":events:changed"
}
