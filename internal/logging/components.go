package logging

// Component constants for structured logging
const (
	ComponentStartup       = "startup"
	ComponentShutdown      = "shutdown"
	ComponentDatabase      = "database"
	ComponentScheduler     = "scheduler"
	ComponentRender        = "render"
	ComponentWS            = "websocket"
	ComponentNotifier      = "notifier"
	ComponentAPINext       = "api-next"
	ComponentAPIPush       = "api-push"
	ComponentAPIBrightness = "api-brightness"
	ComponentDevices       = "devices"
	ComponentApps          = "apps"
)
