package backend

// ReportSpec is one row of the report table: report type, date range, chunk size.
type ReportSpec struct {
	ReportType string `json:"report_type"`
	FromDate   string `json:"from_date"`
	ToDate     string `json:"to_date"`
	ChunkSize  string `json:"chunk_size"`
}

// FormSnapshot is the full download form payload sent to /start-download. The same
// shape is persisted as a named configuration by the backend.
type FormSnapshot struct {
	Email            string       `json:"email"`
	Password         string       `json:"password"`
	OTPSecret        string       `json:"otp_secret,omitempty"`
	DriverPath       string       `json:"driver_path,omitempty"`
	DownloadBasePath string       `json:"download_base_path,omitempty"`
	Reports          []ReportSpec `json:"reports"`
	Regions          []string     `json:"regions"`
}

// ReportOptions is the reports/regions metadata returned by /get-reports-regions.
type ReportOptions struct {
	Reports            []string          `json:"reports"`
	ReportURLsMap      map[string]string `json:"report_urls_map"`
	RegionRequiredURLs []string          `json:"region_required_urls"`
	Regions            map[string]string `json:"regions"`
}

// RequiresRegion reports whether any of the given report types maps to a URL in the
// region-required set.
func (o *ReportOptions) RequiresRegion(reportTypes []string) bool {
	if o == nil || len(o.ReportURLsMap) == 0 || len(o.RegionRequiredURLs) == 0 {
		return false
	}
	required := make(map[string]struct{}, len(o.RegionRequiredURLs))
	for _, u := range o.RegionRequiredURLs {
		required[u] = struct{}{}
	}
	for _, rt := range reportTypes {
		url, ok := o.ReportURLsMap[rt]
		if !ok || url == "" {
			continue
		}
		if _, hit := required[url]; hit {
			return true
		}
	}
	return false
}

// StatusReply is the generic {status, message} envelope used by the backend's
// mutating endpoints.
type StatusReply struct {
	Status  string `json:"status"`
	Message string `json:"message,omitempty"`
	JobID   string `json:"job_id,omitempty"`
}

// Started reports whether a start-download reply accepted the job.
func (r StatusReply) Started() bool {
	return r.Status == "started" || r.Status == "success"
}

// Schedule is one scheduled download job as listed by /get-schedules.
type Schedule struct {
	ID          string   `json:"id"`
	Name        string   `json:"name"`
	NextRunTime string   `json:"next_run_time"`
	Trigger     string   `json:"trigger"`
	Args        []string `json:"args"`
}

// ConfigName returns the configuration the schedule will run, or a placeholder when
// the job carries no arguments.
func (s Schedule) ConfigName() string {
	if len(s.Args) > 0 && s.Args[0] != "" {
		return s.Args[0]
	}
	return "Unknown Config"
}

// ScheduleRequest is the body for /schedule-job.
type ScheduleRequest struct {
	ConfigName  string `json:"config_name"`
	TriggerType string `json:"trigger_type"`
	RunDatetime string `json:"run_datetime"`
}

// LogEntry is one row of the backend's download log. Column names carry spaces, so
// rows are kept as loose maps and read through accessors.
type LogEntry map[string]any

// Field returns the named column as a display string, "-" when absent or empty.
func (e LogEntry) Field(name string) string {
	v, ok := e[name]
	if !ok || v == nil {
		return "-"
	}
	s, ok := v.(string)
	if !ok {
		return toString(v)
	}
	if s == "" {
		return "-"
	}
	return s
}
