package crm

// Lead is the subset of a CRM lead the automation engine reads.
type Lead struct {
	ID                int64  `json:"id"`
	Name              string `json:"name"`
	Price             int64  `json:"price"`
	StatusID          int64  `json:"status_id"`
	PipelineID        int64  `json:"pipeline_id"`
	ResponsibleUserID int64  `json:"responsible_user_id"`
	ContactIDs        []int64
}

type Contact struct {
	ID    int64  `json:"id"`
	Name  string `json:"name"`
	Email string
	Phone string
}

type Stage struct {
	ID   int64  `json:"id"`
	Name string `json:"name"`
}

type Pipeline struct {
	ID     int64   `json:"id"`
	Name   string  `json:"name"`
	Stages []Stage `json:"stages"`
}

// StageName returns the name of stageID, or "" when unknown.
func (p Pipeline) StageName(stageID int64) string {
	for _, s := range p.Stages {
		if s.ID == stageID {
			return s.Name
		}
	}
	return ""
}

type User struct {
	ID    int64  `json:"id"`
	Name  string `json:"name"`
	Email string `json:"email"`
}

// OutboundMessage is a chat message sent on behalf of the agent.
type OutboundMessage struct {
	ChatID string
	LeadID int64
	Text   string
}

// OutboundEmail is an email sent through the CRM mailbox integration.
type OutboundEmail struct {
	LeadID  int64
	To      string
	Subject string
	Body    string
}

type Task struct {
	LeadID            int64
	Text              string
	CompleteTill      int64
	ResponsibleUserID int64
}
