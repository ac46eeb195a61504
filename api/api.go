// Package api holds the request and response bodies exchanged between the
// server and its clients. Field names are part of the wire contract.
package api

import (
	"strconv"
	"strings"
)

// MessageSuccess is the message of every successful response.
const MessageSuccess = "success"

// Result is embedded in every response.
type Result struct {
	Success bool   `json:"success"`
	Message string `json:"message"`
}

// OK returns a successful Result.
func OK() Result { return Result{Success: true, Message: MessageSuccess} }

// Fail returns a failed Result carrying msg.
func Fail(msg string) Result { return Result{Success: false, Message: msg} }

// JoinIDs renders ids as a comma-joined decimal list.
func JoinIDs(ids []int64) string {
	parts := make([]string, len(ids))
	for i, id := range ids {
		parts[i] = strconv.FormatInt(id, 10)
	}
	return strings.Join(parts, ",")
}

// SplitIDs parses a list produced by JoinIDs. An empty string yields an
// empty slice.
func SplitIDs(s string) ([]int64, error) {
	ids := []int64{}
	if s == "" {
		return ids, nil
	}
	for _, part := range strings.Split(s, ",") {
		id, err := strconv.ParseInt(part, 10, 64)
		if err != nil {
			return nil, err
		}
		ids = append(ids, id)
	}
	return ids, nil
}

// ------------------ /user ------------------

type UserRegisterRequest struct {
	Username string `json:"username"`
	Email    string `json:"email"`
	Info     string `json:"info"`
}

type UserRegisterResponse struct {
	Result
	UID int64 `json:"uid"`
}

type UserLookupRequest struct {
	Phrase string `json:"phrase" query:"phrase" validate:"required"`
}

type UserLookupResponse struct {
	Result
	UID int64 `json:"uid"`
}

type UserAlterRequest struct {
	UID      int64  `json:"uid" validate:"gt=0"`
	Username string `json:"username"`
	Email    string `json:"email"`
	Info     string `json:"info"`
}

type UserUnregisterRequest struct {
	UID int64 `json:"uid" validate:"gt=0"`
}

type UserInfoRequest struct {
	UID int64 `json:"uid" query:"uid" validate:"gt=0"`
}

type UserInfoResponse struct {
	Result
	Username string `json:"username"`
	Email    string `json:"email"`
	Info     string `json:"info"`
}

// UserListRequest is shared by /user/borrowed and /user/reserved.
type UserListRequest struct {
	UID int64 `json:"uid" query:"uid" validate:"gt=0"`
}

// IIDListResponse is shared by /user/borrowed, /user/reserved and
// /book/instance.
type IIDListResponse struct {
	Result
	IIDList string `json:"iid_list"`
}

// OccupyRequest is shared by /user/borrow and /user/reserve.
type OccupyRequest struct {
	UID int64 `json:"uid" validate:"gt=0"`
	IID int64 `json:"iid" validate:"gt=0"`
}

type ReturnRequest struct {
	IID int64 `json:"iid" validate:"gt=0"`
}

// ------------------ /admin ------------------

type BookAddRequest struct {
	Title  string `json:"title"`
	Author string `json:"author"`
	Info   string `json:"info"`
}

type BookAddResponse struct {
	Result
	BID int64 `json:"bid"`
}

type BookRemoveRequest struct {
	BID int64 `json:"bid" validate:"gt=0"`
}

type BookAlterRequest struct {
	BID    int64  `json:"bid" validate:"gt=0"`
	Title  string `json:"title"`
	Author string `json:"author"`
	Info   string `json:"info"`
}

type InstanceAddRequest struct {
	BID    int64 `json:"bid" validate:"gt=0"`
	Status int64 `json:"status"`
}

type InstanceAddResponse struct {
	Result
	IID int64 `json:"iid"`
}

type InstanceRemoveRequest struct {
	IID int64 `json:"iid" validate:"gt=0"`
}

// ------------------ /book ------------------

type BookSearchRequest struct {
	Phrase string `json:"phrase" query:"phrase"`
}

type BookSearchResponse struct {
	Result
	BIDList string `json:"bid_list"`
}

type BookInfoRequest struct {
	BID int64 `json:"bid" query:"bid" validate:"gt=0"`
}

type BookInfoResponse struct {
	Result
	Title  string `json:"title"`
	Author string `json:"author"`
	Info   string `json:"info"`
}

type BookInstanceRequest struct {
	BID int64 `json:"bid" query:"bid" validate:"gt=0"`
}

type InstanceInfoRequest struct {
	IID int64 `json:"iid" query:"iid" validate:"gt=0"`
}

type InstanceInfoResponse struct {
	Result
	BID    int64 `json:"bid"`
	Status int64 `json:"status"`
}

// HealthResponse is served at /health.
type HealthResponse struct {
	Result
	SchemaVersion int `json:"schema_version"`
}
