package internal

type TicketSource string

const (
	SourceUpload     TicketSource = "upload"
	SourceTextFile   TicketSource = "text_file"
	SourceEmailText  TicketSource = "email_text"
	SourceEmailHTML  TicketSource = "email_html"
	SourceEmailImage TicketSource = "email_image"
	SourceEmailPDF   TicketSource = "email_pdf"
	SourceImageFile  TicketSource = "image_file"
	SourcePDFFile    TicketSource = "pdf_file"
)

type CompletedFlag string

const (
	CompletedYes CompletedFlag = "Y"
	CompletedNo  CompletedFlag = "N"
)

func (f CompletedFlag) Valid() bool {
	return f == CompletedYes || f == CompletedNo
}

// Entry is one service order recovered from a ticket scan.
type Entry struct {
	Customer  string        `json:"customer"`
	Address   string        `json:"address"`
	Product   string        `json:"product"`
	Quantity  int           `json:"quantity"`
	Completed CompletedFlag `json:"completed"`
}

type ScanResult struct {
	RawText string
	Lines   []string
	Entries []Entry
}

type TicketDocument struct {
	Source      TicketSource
	Name        string
	ContentType string
	Content     []byte
	Text        string
}

type TicketRow struct {
	ID             int
	EmailID        *int
	Source         string
	Name           string
	Hash           string
	RawText        string
	NormalizedText string
	CreatedAt      string
}

type EntryRow struct {
	ID          int
	TicketID    int
	Seq         int
	Entry       Entry
	CompletedAt *string
}

type EmailRow struct {
	ID         int
	Provider   string
	MessageID  string
	Subject    string
	Sender     string
	ReceivedAt string
	Hash       string
	Status     string
	RawRef     string
}

type FetchedMailMessage struct {
	Provider   string
	MessageID  string
	Subject    string
	From       string
	ReceivedAt string
	Raw        []byte
}

type EntryExportRow struct {
	TicketID     int
	EmailID      *int
	Source       string
	DocumentName string
	EntryID      int
	Seq          int
	Customer     string
	Address      string
	Product      string
	Quantity     int
	Completed    string
	CompletedAt  *string
}
