package store

import (
	"database/sql"
	"encoding/json"
)

// JobScanArgs holds the nullable column variables needed for scanning a
// job from a database row.
type JobScanArgs struct {
	Responses   sql.NullString
	UserData    sql.NullString
	WorkerID    sql.NullString
	ErrorMsg    sql.NullString
	BatchID     sql.NullString
	FileName    sql.NullString
	CompletedAt sql.NullTime
}

// GetJobScanArgs returns a JobScanArgs struct with all variables ready for scanning
func GetJobScanArgs() *JobScanArgs {
	return &JobScanArgs{}
}

// GetJobScanTargets returns a slice of interface{} pointers for the job and scan args,
// in the order expected by the standard job SELECT query
func GetJobScanTargets(job *Job, args *JobScanArgs) []interface{} {
	return []interface{}{
		&job.ID,
		&job.SessionID,
		&job.Mode,
		&args.Responses,
		&args.UserData,
		&job.Status,
		&args.WorkerID,
		&args.ErrorMsg,
		&args.BatchID,
		&args.FileName,
		&job.CreatedAt,
		&job.UpdatedAt,
		&args.CompletedAt,
	}
}

// ProcessJobScanArgs processes the scanned arguments and populates the job struct.
// Returns an error if JSON unmarshaling fails.
func ProcessJobScanArgs(job *Job, args *JobScanArgs) error {
	if args.Responses.Valid && args.Responses.String != "" {
		if err := json.Unmarshal([]byte(args.Responses.String), &job.Responses); err != nil {
			// Legacy rows may hold bare text rather than JSON
			job.Responses = Input{Raw: args.Responses.String}
		}
	}

	if args.UserData.Valid && args.UserData.String != "" {
		var userData map[string]interface{}
		if err := json.Unmarshal([]byte(args.UserData.String), &userData); err == nil {
			job.UserData = userData
		}
	}

	if args.WorkerID.Valid {
		job.WorkerID = args.WorkerID.String
	}
	if args.ErrorMsg.Valid {
		job.Error = args.ErrorMsg.String
	}
	if args.BatchID.Valid {
		job.BatchID = args.BatchID.String
	}
	if args.FileName.Valid {
		job.FileName = args.FileName.String
	}
	if args.CompletedAt.Valid {
		job.CompletedAt = &args.CompletedAt.Time
	}

	return nil
}

// ScanJobFromRow scans a single job from a sql.Row
func ScanJobFromRow(row *sql.Row, job *Job) error {
	args := GetJobScanArgs()
	targets := GetJobScanTargets(job, args)

	if err := row.Scan(targets...); err != nil {
		return err
	}

	return ProcessJobScanArgs(job, args)
}

// ScanJobFromRows scans a single job from sql.Rows (for use in loops)
func ScanJobFromRows(rows *sql.Rows, job *Job) error {
	args := GetJobScanArgs()
	targets := GetJobScanTargets(job, args)

	if err := rows.Scan(targets...); err != nil {
		return err
	}

	return ProcessJobScanArgs(job, args)
}

// StandardJobSelectColumns returns the standard column list for job SELECT queries
func StandardJobSelectColumns() string {
	return `id, session_id, mode, responses, user_data,
		status, worker_id, error, batch_id, file_name,
		created_at, updated_at, completed_at`
}
