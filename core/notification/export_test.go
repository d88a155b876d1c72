package notification

var BroadcastDuration = broadcastDuration
