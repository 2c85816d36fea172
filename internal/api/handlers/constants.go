package handlers

const (
	// Multipart form fields of POST /infill
	fieldIntroFile = "intro_file"
	fieldOutroFile = "outro_file"

	// Download name of the result archive
	archiveDownloadName = "generated_music.zip"

	connectTestMessage = "I sleeped for a while! Good morning."

	// Outcomes recorded for requests that fail outside the pipeline
	outcomeUpload     = "upload"
	outcomeWorkspace  = "workspace"
	outcomeSynthesize = "synthesize"
	outcomePanic      = "panic"
)
