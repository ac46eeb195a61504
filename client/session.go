package client

import (
	"bufio"
	"context"
	"errors"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strconv"
	"strings"

	"github.com/aurantiaco-sucus/rdb-exp3/library"
)

const maxLine = 1 << 20

type argKind int

const (
	text argKind = iota
	number
)

type arg struct {
	name string
	kind argKind
}

// command describes one category/function pair of the line protocol.
type command struct {
	method string
	path   string
	args   []arg
	// output lists the response fields printed on success.
	output []string
	check  func(values map[string]string) string
}

func str(name string) arg { return arg{name: name, kind: text} }
func num(name string) arg { return arg{name: name, kind: number} }

func checkUser(values map[string]string) string {
	if !library.IsUsernameLegit(values["username"]) {
		return "username is not legit"
	}
	if !library.IsEmailLegit(values["email"]) {
		return "email is not legit"
	}
	return ""
}

var commands = map[string]map[string]command{
	"user": {
		"register":   {http.MethodPost, "/user/register", []arg{str("username"), str("email"), str("info")}, []string{"uid"}, checkUser},
		"lookup":     {http.MethodGet, "/user/lookup", []arg{str("phrase")}, []string{"uid"}, nil},
		"alter":      {http.MethodPost, "/user/alter", []arg{num("uid"), str("username"), str("email"), str("info")}, nil, checkUser},
		"unregister": {http.MethodPost, "/user/unregister", []arg{num("uid")}, nil, nil},
		"info":       {http.MethodGet, "/user/info", []arg{num("uid")}, []string{"username", "email", "info"}, nil},
		"borrowed":   {http.MethodGet, "/user/borrowed", []arg{num("uid")}, []string{"iid_list"}, nil},
		"reserved":   {http.MethodGet, "/user/reserved", []arg{num("uid")}, []string{"iid_list"}, nil},
		"borrow":     {http.MethodPost, "/user/borrow", []arg{num("uid"), num("iid")}, nil, nil},
		"reserve":    {http.MethodPost, "/user/reserve", []arg{num("uid"), num("iid")}, nil, nil},
		"return":     {http.MethodPost, "/user/return", []arg{num("iid")}, nil, nil},
	},
	"book": {
		"search":        {http.MethodGet, "/book/search", []arg{str("phrase")}, []string{"bid_list"}, nil},
		"info":          {http.MethodGet, "/book/info", []arg{num("bid")}, []string{"title", "author", "info"}, nil},
		"instance":      {http.MethodGet, "/book/instance", []arg{num("bid")}, []string{"iid_list"}, nil},
		"instance_info": {http.MethodGet, "/book/instance_info", []arg{num("iid")}, []string{"bid", "status"}, nil},
	},
	"admin": {
		"add":             {http.MethodPost, "/admin/add", []arg{str("title"), str("author"), str("info")}, []string{"bid"}, nil},
		"remove":          {http.MethodPost, "/admin/remove", []arg{num("bid")}, nil, nil},
		"alter":           {http.MethodPost, "/admin/alter", []arg{num("bid"), str("title"), str("author"), str("info")}, nil, nil},
		"add_instance":    {http.MethodPost, "/admin/add_instance", []arg{num("bid"), num("status")}, []string{"iid"}, nil},
		"remove_instance": {http.MethodPost, "/admin/remove_instance", []arg{num("iid")}, nil, nil},
	},
}

var unescaper = strings.NewReplacer(`\\`, `\`, `\n`, "\n", `\t`, "\t", `\r`, "\r")

// Unescape expands \n, \t, \r and \\ in an argument line.
func Unescape(s string) string { return unescaper.Replace(s) }

// LineSource yields input lines one at a time. name labels the expected
// line; sources may use it as a prompt. io.EOF ends the session.
type LineSource interface {
	Next(name string) (string, error)
}

type scannerSource struct {
	sc     *bufio.Scanner
	prompt io.Writer
}

// NewScannerSource reads lines from in. When prompt is non-nil the name of
// each expected line is written to it first.
func NewScannerSource(in io.Reader, prompt io.Writer) LineSource {
	sc := bufio.NewScanner(in)
	sc.Buffer(make([]byte, 0, 4096), maxLine)
	return &scannerSource{sc: sc, prompt: prompt}
}

func (s *scannerSource) Next(name string) (string, error) {
	if s.prompt != nil {
		fmt.Fprintln(s.prompt, name)
	}
	if !s.sc.Scan() {
		if err := s.sc.Err(); err != nil {
			return "", err
		}
		return "", io.EOF
	}
	return s.sc.Text(), nil
}

// Session reads requests from a LineSource and writes verdicts to out.
//
// Each request is a category line, a function line, then one line per
// argument. Each answer is OK or ERR, a message line, and on success one
// key=value line per result field.
type Session struct {
	client *Client
	in     LineSource
	out    io.Writer
	err    error
}

// NewSession builds a Session.
func NewSession(c *Client, in LineSource, out io.Writer) *Session {
	return &Session{client: c, in: in, out: out}
}

// Run serves requests until the input ends or ctx is done.
func (s *Session) Run(ctx context.Context) error {
	for ctx.Err() == nil {
		category, ok := s.readLine("category")
		if !ok {
			break
		}
		function, ok := s.readLine("function")
		if !ok {
			break
		}

		group, found := commands[category]
		if !found {
			fmt.Fprintf(s.out, "unknown category: %s\n", category)
			continue
		}
		cmd, found := group[function]
		if !found {
			fmt.Fprintf(s.out, "unknown function: %s\n", function)
			continue
		}
		if !s.exec(ctx, cmd) {
			break
		}
	}
	if s.err != nil {
		return fmt.Errorf("read input: %w", s.err)
	}
	return ctx.Err()
}

// exec reads the arguments of cmd, sends it and prints the verdict. It
// returns false when the input ended mid-request.
func (s *Session) exec(ctx context.Context, cmd command) bool {
	values := make(map[string]string, len(cmd.args))
	for _, a := range cmd.args {
		line, ok := s.readLine(a.name)
		if !ok {
			s.verdict(false, "failed to read argument: "+a.name)
			return false
		}
		values[a.name] = Unescape(line)
	}

	if cmd.check != nil {
		if msg := cmd.check(values); msg != "" {
			s.verdict(false, msg)
			return true
		}
	}

	body := make(map[string]any, len(cmd.args))
	query := url.Values{}
	for _, a := range cmd.args {
		v := values[a.name]
		if a.kind == number {
			n, err := strconv.ParseInt(strings.TrimSpace(v), 10, 64)
			if err != nil {
				s.verdict(false, a.name+" is not a number")
				return true
			}
			body[a.name] = n
			query.Set(a.name, strconv.FormatInt(n, 10))
			continue
		}
		body[a.name] = v
		query.Set(a.name, v)
	}

	resp := map[string]any{}
	var err error
	if cmd.method == http.MethodGet {
		err = s.client.Get(ctx, cmd.path, query, &resp)
	} else {
		err = s.client.Post(ctx, cmd.path, body, &resp)
	}
	if err != nil {
		s.verdict(false, "failed to receive response: "+err.Error())
		return true
	}

	success, _ := resp["success"].(bool)
	message, _ := resp["message"].(string)
	s.verdict(success, message)
	if success {
		for _, key := range cmd.output {
			fmt.Fprintf(s.out, "%s=%v\n", key, resp[key])
		}
	}
	return true
}

func (s *Session) readLine(name string) (string, bool) {
	line, err := s.in.Next(name)
	if err != nil {
		if !errors.Is(err, io.EOF) {
			s.err = err
		}
		return "", false
	}
	return line, true
}

func (s *Session) verdict(success bool, message string) {
	if success {
		fmt.Fprintln(s.out, "OK")
	} else {
		fmt.Fprintln(s.out, "ERR")
	}
	fmt.Fprintln(s.out, message)
}
