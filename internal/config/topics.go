package config

const (
	// TopicAnalysisTask is the NSQ topic for document analysis dispatch.
	TopicAnalysisTask = "analysis.task"

	// TopicAnalysisProgress carries per-task progress events.
	TopicAnalysisProgress = "analysis.progress"

	// TopicAnalysisResult is the NSQ topic for terminal task notifications.
	TopicAnalysisResult = "analysis.result"
)

// Topics lists every topic the backend creates on startup.
var Topics = []string{TopicAnalysisTask, TopicAnalysisProgress, TopicAnalysisResult}
