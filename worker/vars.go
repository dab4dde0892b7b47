package worker

import (
	"encoding/json"
	"fmt"

	"github.com/teranos/flowd/store"
)

// BuildGlobalVariables assembles the string map handed to the pipeline
// engine for one job. Batch jobs additionally carry their file context;
// userData entries are applied last so submitters can override anything,
// including the injected keys.
func BuildGlobalVariables(job *store.Job, defaultOutputDir string) map[string]string {
	vars := map[string]string{
		"job_id":         job.ID,
		"job_session_id": job.SessionID,
	}
	if encoded, err := job.Responses.JSONString(); err == nil {
		vars["questionnaire_responses"] = encoded
	} else {
		vars["questionnaire_responses"] = "{}"
	}

	if job.IsBatch() {
		vars["batch_id"] = job.BatchID
		vars["file_name"] = job.FileName
		vars["raw_text"] = job.Responses.RawText()
		vars["output_dir"] = defaultOutputDir
		if dir, ok := job.Responses.Fields["output_dir"].(string); ok && dir != "" {
			vars["output_dir"] = dir
		}
	}

	for key, value := range job.UserData {
		vars[key] = coerceString(value)
	}
	return vars
}

// coerceString renders a userData value for the string-only variable map.
// Strings pass through verbatim; everything else takes its JSON form so the
// pipeline can parse structured values back out.
func coerceString(value interface{}) string {
	switch v := value.(type) {
	case string:
		return v
	case nil:
		return ""
	default:
		encoded, err := json.Marshal(v)
		if err != nil {
			return fmt.Sprintf("%v", v)
		}
		return string(encoded)
	}
}
