package clinicaltrials

// StudiesResponse is the response from the /studies endpoint of the
// ClinicalTrials.gov v2 API.
type StudiesResponse struct {
	Studies       []Study `json:"studies"`
	NextPageToken string  `json:"nextPageToken"`
}

// Study is one registered trial record.
type Study struct {
	ProtocolSection ProtocolSection `json:"protocolSection"`
}

// ProtocolSection groups the study modules used for normalization.
type ProtocolSection struct {
	IdentificationModule IdentificationModule `json:"identificationModule"`
	StatusModule         StatusModule         `json:"statusModule"`
}

// IdentificationModule carries the study identifiers and title.
type IdentificationModule struct {
	NCTID      string `json:"nctId"`
	BriefTitle string `json:"briefTitle"`
}

// StatusModule carries the study lifecycle dates.
type StatusModule struct {
	OverallStatus   string      `json:"overallStatus"`
	StartDateStruct *DateStruct `json:"startDateStruct"`
}

// DateStruct is a partial date as reported by the registry,
// formatted "2006-01-02" or "2006-01".
type DateStruct struct {
	Date string `json:"date"`
}
