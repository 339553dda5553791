// Package transform builds the per-cycle snapshot: it converts raw CRM
// payloads into entity records and relationship edges, normalizing endpoint
// keys on the way so the reconciler can diff them reliably.
package transform

import (
	"log"
	"net/url"
	"strconv"
	"strings"
	"time"
	"unicode/utf8"

	"github.com/inboundfound/hubsync/internal/domain"
)

// Transformer converts one cycle's SourceData into a domain.Snapshot.
// A Transformer is single-use: it tracks deduplication state for web pages
// and campaigns discovered while walking the input.
type Transformer struct {
	table         domain.TrackabilityTable
	idGen         *IDGenerator
	snapshot      *domain.Snapshot
	seenPages     map[string]struct{}
	seenCampaigns map[string]struct{}
}

// NewTransformer creates a transformer using the given trackability table and
// synthetic id generator.
func NewTransformer(table domain.TrackabilityTable, idGen *IDGenerator) *Transformer {
	return &Transformer{
		table:         table,
		idGen:         idGen,
		snapshot:      domain.NewSnapshot(),
		seenPages:     make(map[string]struct{}),
		seenCampaigns: make(map[string]struct{}),
	}
}

// Transform walks every source collection and returns the finished snapshot.
func (t *Transformer) Transform(data SourceData) *domain.Snapshot {
	for _, entityType := range AllEntityTypes {
		t.snapshot.EnsureType(entityType)
	}

	t.transformContacts(data.Contacts)
	t.transformCompanies(data.Companies)
	t.transformDeals(data.Deals)
	t.transformEngagements(data.Engagements)
	t.transformUsers(data.Users)
	t.transformEmailEvents(data.EmailEvents)
	t.transformFormSubmissions(data.FormSubmissions)

	totalRecords := 0
	for _, byID := range t.snapshot.Records {
		totalRecords += len(byID)
	}
	log.Printf("[TRANSFORM] Built snapshot: %d records, %d edges", totalRecords, len(t.snapshot.Edges))
	return t.snapshot
}

func (t *Transformer) transformContacts(contacts []SourceObject) {
	for _, contact := range contacts {
		props := contact.Properties

		t.snapshot.Add(domain.NewEntityRecord(TypeContact, contact.ID, map[string]any{
			"email":           domain.NormalizeKey(stringProp(props, "email")),
			"first_name":      stringProp(props, "firstname"),
			"last_name":       stringProp(props, "lastname"),
			"job_title":       stringProp(props, "jobtitle"),
			"lifecycle_stage": stringProp(props, "lifecyclestage"),
			"created_date":    parseDate(props["createdate"]),
			"source":          stringProp(props, "hs_analytics_source"),
			"total_opens":     safeInt(props["hs_email_open"]),
			"total_clicks":    safeInt(props["hs_email_click"]),
			"total_visits":    safeInt(props["hs_analytics_num_visits"]),
			"country":         stringProp(props, "country"),
			"city":            stringProp(props, "city"),
			"state":           stringProp(props, "state"),
		}))

		if companyID := stringProp(props, "associatedcompanyid"); companyID != "" {
			t.addEdge(RelWorksAt, TypeContact, contact.ID, TypeCompany, companyID, nil)
		}
		if ownerID := stringProp(props, "hubspot_owner_id"); ownerID != "" {
			t.addEdge(RelOwnedBy, TypeContact, contact.ID, TypeUser, ownerID, nil)
		}
		for _, deal := range contact.Associations["deals"] {
			t.addEdge(RelAssociatedWith, TypeContact, contact.ID, TypeDeal, deal.ID, nil)
		}
		if lastURL := stringProp(props, "hs_analytics_last_url"); lastURL != "" {
			t.addWebPage(lastURL)
			t.addEdge(RelVisited, TypeContact, contact.ID, TypeWebPage, lastURL, map[string]any{
				"timestamp": parseDate(props["hs_analytics_last_timestamp"]),
				"source":    stringProp(props, "hs_analytics_source"),
			})
		}
	}
}

func (t *Transformer) transformCompanies(companies []SourceObject) {
	for _, company := range companies {
		props := company.Properties

		t.snapshot.Add(domain.NewEntityRecord(TypeCompany, company.ID, map[string]any{
			"name":         stringProp(props, "name"),
			"domain":       cleanDomain(stringProp(props, "domain")),
			"industry":     stringProp(props, "industry"),
			"employees":    safeInt(props["numberofemployees"]),
			"revenue":      safeFloat(props["annualrevenue"]),
			"created_date": parseDate(props["createdate"]),
			"country":      stringProp(props, "country"),
			"city":         stringProp(props, "city"),
			"website":      stringProp(props, "website"),
		}))

		if ownerID := stringProp(props, "hubspot_owner_id"); ownerID != "" {
			t.addEdge(RelOwnedBy, TypeCompany, company.ID, TypeUser, ownerID, nil)
		}
	}
}

func (t *Transformer) transformDeals(deals []SourceObject) {
	for _, deal := range deals {
		props := deal.Properties

		t.snapshot.Add(domain.NewEntityRecord(TypeDeal, deal.ID, map[string]any{
			"name":         stringProp(props, "dealname"),
			"amount":       safeFloat(props["amount"]),
			"stage":        stringProp(props, "dealstage"),
			"pipeline":     stringProp(props, "pipeline"),
			"close_date":   parseDate(props["closedate"]),
			"created_date": parseDate(props["createdate"]),
		}))

		if ownerID := stringProp(props, "hubspot_owner_id"); ownerID != "" {
			t.addEdge(RelOwnedBy, TypeDeal, deal.ID, TypeUser, ownerID, nil)
		}
		for _, company := range deal.Associations["companies"] {
			t.addEdge(RelAssociatedWith, TypeDeal, deal.ID, TypeCompany, company.ID, nil)
		}
	}
}

func (t *Transformer) transformEngagements(engagements []SourceObject) {
	for _, engagement := range engagements {
		props := engagement.Properties
		engagementType := stringProp(props, "hs_engagement_type")
		if engagementType == "" {
			engagementType = "UNKNOWN"
		}

		attributes := map[string]any{
			"type":         engagementType,
			"timestamp":    parseDate(firstOf(props, "hs_timestamp", "hs_createdate")),
			"created_date": parseDate(props["hs_createdate"]),
		}
		switch engagementType {
		case "MEETING":
			attributes["details"] = stringProp(props, "hs_meeting_title")
		case "CALL":
			attributes["details"] = stringProp(props, "hs_call_title")
			attributes["duration"] = safeInt(props["hs_call_duration"])
		case "NOTE":
			attributes["details"] = truncate(stringProp(props, "hs_note_body"), 200)
		case "TASK":
			attributes["details"] = stringProp(props, "hs_task_subject")
			attributes["status"] = stringProp(props, "hs_task_status")
		}
		t.snapshot.Add(domain.NewEntityRecord(TypeActivity, engagement.ID, attributes))

		for _, contact := range engagement.Associations["contacts"] {
			t.addEdge(RelInvolves, TypeActivity, engagement.ID, TypeContact, contact.ID, nil)
		}
		for _, deal := range engagement.Associations["deals"] {
			t.addEdge(RelRelatedTo, TypeActivity, engagement.ID, TypeDeal, deal.ID, nil)
		}
	}
}

func (t *Transformer) transformUsers(users []SourceObject) {
	for _, user := range users {
		props := user.Properties
		t.snapshot.Add(domain.NewEntityRecord(TypeUser, user.ID, map[string]any{
			"email":      domain.NormalizeKey(stringProp(props, "email")),
			"first_name": stringProp(props, "firstName"),
			"last_name":  stringProp(props, "lastName"),
			"archived":   boolProp(props, "archived"),
		}))
	}
}

// transformEmailEvents builds campaign nodes and the immutable OPENED/CLICKED
// edges. The contact endpoint is the recipient's normalized email, a natural
// key resolved against the contact index at reconcile time.
func (t *Transformer) transformEmailEvents(events []map[string]any) {
	for _, event := range events {
		campaignID := stringProp(event, "emailCampaignId")
		if campaignID != "" {
			if _, seen := t.seenCampaigns[campaignID]; !seen {
				t.seenCampaigns[campaignID] = struct{}{}
				t.snapshot.Add(domain.NewEntityRecord(TypeEmailCampaign, campaignID, map[string]any{
					"name":      stringProp(event, "emailCampaignName"),
					"subject":   stringProp(event, "subject"),
					"sent_date": parseDate(event["created"]),
				}))
			}
		}

		eventType := stringProp(event, "type")
		recipient := domain.NormalizeKey(stringProp(event, "recipient"))
		if recipient == "" || campaignID == "" {
			continue
		}

		var relType string
		switch eventType {
		case "OPEN":
			relType = RelOpened
		case "CLICK":
			relType = RelClicked
		default:
			continue
		}

		attributes := map[string]any{
			"timestamp":   parseDate(event["created"]),
			"device_type": stringProp(event, "deviceType"),
		}
		if relType == RelClicked {
			if clickedURL := stringProp(event, "url"); clickedURL != "" {
				attributes["url"] = clickedURL
				t.addWebPage(clickedURL)
			}
		}
		t.addEdge(relType, TypeContact, recipient, TypeEmailCampaign, campaignID, attributes)
	}
}

// transformFormSubmissions creates submission nodes with ids from the
// snapshot-scoped generator, plus the immutable SUBMITTED edge.
func (t *Transformer) transformFormSubmissions(submissions []map[string]any) {
	for _, submission := range submissions {
		email := domain.NormalizeKey(stringProp(submission, "email"))
		if email == "" {
			continue
		}

		id := stringProp(submission, "id")
		if id == "" {
			id = t.idGen.Next()
		}
		t.snapshot.Add(domain.NewEntityRecord(TypeFormSubmission, id, map[string]any{
			"form_id":      stringProp(submission, "formId"),
			"form_name":    stringProp(submission, "formName"),
			"page_url":     stringProp(submission, "pageUrl"),
			"submitted_at": parseDate(submission["submittedAt"]),
		}))

		t.addEdge(RelSubmitted, TypeContact, email, TypeFormSubmission, id, map[string]any{
			"timestamp": parseDate(submission["submittedAt"]),
		})
	}
}

// addWebPage creates a web page record once per distinct URL. The URL doubles
// as the node id, which keeps page references stable across cycles.
func (t *Transformer) addWebPage(pageURL string) {
	if pageURL == "" {
		return
	}
	if _, seen := t.seenPages[pageURL]; seen {
		return
	}
	t.seenPages[pageURL] = struct{}{}

	parsed, err := url.Parse(pageURL)
	if err != nil {
		log.Printf("[TRANSFORM] Skipping unparseable URL %q: %v", pageURL, err)
		return
	}
	t.snapshot.Add(domain.NewEntityRecord(TypeWebPage, pageURL, map[string]any{
		"url":    pageURL,
		"domain": parsed.Host,
		"path":   parsed.Path,
	}))
}

func (t *Transformer) addEdge(relType, fromType, fromKey, toType, toKey string, attributes map[string]any) {
	t.snapshot.AddEdge(domain.RelationshipEdge{
		RelType:    relType,
		FromType:   fromType,
		FromKey:    fromKey,
		ToType:     toType,
		ToKey:      toKey,
		Attributes: attributes,
		Trackable:  t.table.Trackable(relType),
	})
}

func stringProp(props map[string]any, key string) string {
	switch value := props[key].(type) {
	case string:
		return strings.TrimSpace(value)
	case float64:
		if value == float64(int64(value)) {
			return strconv.FormatInt(int64(value), 10)
		}
		return strconv.FormatFloat(value, 'f', -1, 64)
	case int:
		return strconv.Itoa(value)
	default:
		return ""
	}
}

func boolProp(props map[string]any, key string) bool {
	value, _ := props[key].(bool)
	return value
}

func firstOf(props map[string]any, keys ...string) any {
	for _, key := range keys {
		if value, ok := props[key]; ok && value != nil {
			return value
		}
	}
	return nil
}

func cleanDomain(value string) string {
	value = strings.ToLower(strings.TrimSpace(value))
	return strings.TrimPrefix(value, "www.")
}

// truncate caps a string at max bytes, backing off to the previous rune
// boundary so the result stays valid UTF-8.
func truncate(value string, max int) string {
	if len(value) <= max {
		return value
	}
	cut := max
	for cut > 0 && !utf8.RuneStart(value[cut]) {
		cut--
	}
	return value[:cut]
}

// parseDate normalizes the source's mixed date formats (epoch milliseconds or
// ISO strings) to RFC 3339. Unrecognized inputs pass through unchanged rather
// than failing the record.
func parseDate(value any) string {
	switch v := value.(type) {
	case nil:
		return ""
	case float64:
		return time.UnixMilli(int64(v)).UTC().Format(time.RFC3339)
	case int64:
		return time.UnixMilli(v).UTC().Format(time.RFC3339)
	case string:
		v = strings.TrimSpace(v)
		if v == "" {
			return ""
		}
		if millis, err := strconv.ParseInt(v, 10, 64); err == nil {
			return time.UnixMilli(millis).UTC().Format(time.RFC3339)
		}
		for _, layout := range []string{time.RFC3339Nano, time.RFC3339, "2006-01-02 15:04:05", "2006-01-02"} {
			if parsed, err := time.Parse(layout, v); err == nil {
				return parsed.UTC().Format(time.RFC3339)
			}
		}
		return v
	default:
		return ""
	}
}

func safeInt(value any) int64 {
	switch v := value.(type) {
	case float64:
		return int64(v)
	case int:
		return int64(v)
	case int64:
		return v
	case string:
		if parsed, err := strconv.ParseInt(strings.TrimSpace(v), 10, 64); err == nil {
			return parsed
		}
		if parsed, err := strconv.ParseFloat(strings.TrimSpace(v), 64); err == nil {
			return int64(parsed)
		}
	}
	return 0
}

func safeFloat(value any) float64 {
	switch v := value.(type) {
	case float64:
		return v
	case int:
		return float64(v)
	case string:
		if parsed, err := strconv.ParseFloat(strings.TrimSpace(v), 64); err == nil {
			return parsed
		}
	}
	return 0
}
