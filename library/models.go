package library

// User is a registered library member.
type User struct {
	UID      int64  `db:"uid" json:"uid"`
	Username string `db:"username" json:"username"`
	Email    string `db:"email" json:"email"`
	Info     string `db:"info" json:"info"`
}

// Book is a catalog record. Physical copies are Instances.
type Book struct {
	BID    int64  `db:"bid" json:"bid"`
	Title  string `db:"title" json:"title"`
	Author string `db:"author" json:"author"`
	Info   string `db:"info" json:"info"`
}

// Instance is one physical copy of a Book. Status is a caller-defined code
// (condition, shelf, ...) and says nothing about circulation.
type Instance struct {
	IID    int64 `db:"iid" json:"iid"`
	BID    int64 `db:"bid" json:"bid"`
	Status int64 `db:"status" json:"status"`
}

// Kind tags an Occupation.
type Kind int64

const (
	Borrowed Kind = 0
	Reserved Kind = 1
	// Lost is terminal; Return never releases it.
	Lost Kind = 2
)

func (k Kind) String() string {
	switch k {
	case Borrowed:
		return "borrowed"
	case Reserved:
		return "reserved"
	case Lost:
		return "lost"
	default:
		return "unknown"
	}
}

// Occupation records a user holding or reserving an instance.
type Occupation struct {
	UID  int64  `db:"uid" json:"uid"`
	IID  int64  `db:"iid" json:"iid"`
	Date string `db:"occupied_on" json:"date"`
	Kind Kind   `db:"kind" json:"kind"`
}

const dateLayout = "2006-01-02"
