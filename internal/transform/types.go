package transform

// Entity types produced by the snapshot builder.
const (
	TypeContact        = "Contact"
	TypeCompany        = "Company"
	TypeDeal           = "Deal"
	TypeActivity       = "Activity"
	TypeEmailCampaign  = "EmailCampaign"
	TypeWebPage        = "WebPage"
	TypeUser           = "User"
	TypeFormSubmission = "FormSubmission"
)

// AllEntityTypes lists every type the snapshot builder can produce. Transform
// seeds each into the snapshot up front, so a collection that came back empty
// still reaches the reconciler's empty-snapshot policy instead of vanishing.
var AllEntityTypes = []string{
	TypeContact,
	TypeCompany,
	TypeDeal,
	TypeActivity,
	TypeEmailCampaign,
	TypeWebPage,
	TypeUser,
	TypeFormSubmission,
}

// Relationship types produced by the snapshot builder.
const (
	RelWorksAt        = "WORKS_AT"
	RelAssociatedWith = "ASSOCIATED_WITH"
	RelOwnedBy        = "OWNED_BY"
	RelInvolves       = "INVOLVES"
	RelRelatedTo      = "RELATED_TO"
	RelVisited        = "VISITED"
	RelOpened         = "OPENED"
	RelClicked        = "CLICKED"
	RelSubmitted      = "SUBMITTED"
)

// DefaultImmutableRelTypes lists the relationship types that record one-time
// historical facts. They seed the trackability table unless overridden by
// configuration.
var DefaultImmutableRelTypes = []string{RelOpened, RelClicked, RelSubmitted}

// DefaultNaturalKeys maps entity types to the attribute used as an alternate
// endpoint identity when the source only supplies a natural key.
var DefaultNaturalKeys = map[string]string{
	TypeContact: "email",
	TypeWebPage: "url",
}

// SourceObject is one raw CRM object as delivered by the extraction stage.
type SourceObject struct {
	ID           string                 `json:"id"`
	Properties   map[string]any         `json:"properties"`
	Associations map[string][]SourceRef `json:"associations,omitempty"`
}

// SourceRef points at an associated object by id.
type SourceRef struct {
	ID string `json:"id"`
}

// SourceData is the complete raw state of one sync cycle, one slice per
// upstream collection. Each slice must be the entire current state of its
// collection; deletion detection depends on completeness.
type SourceData struct {
	Contacts        []SourceObject   `json:"contacts"`
	Companies       []SourceObject   `json:"companies"`
	Deals           []SourceObject   `json:"deals"`
	Engagements     []SourceObject   `json:"engagements"`
	Users           []SourceObject   `json:"users"`
	EmailEvents     []map[string]any `json:"email_events"`
	FormSubmissions []map[string]any `json:"form_submissions"`
}
