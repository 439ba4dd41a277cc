package server

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"math"
	"time"

	"github.com/google/uuid"
	"github.com/sirupsen/logrus"
)

// Actions understood by the dispatcher
const (
	ActionCreateTestData = "createTestData"
	ActionGetList        = "getList"
	ActionCreate         = "create"
	ActionUpdate         = "update"
	ActionDelete         = "delete"
	ActionUpdateFavorite = "updateFavorite"
	ActionDeleteAll      = "deleteAll"
)

// Envelope codes
const (
	CodeOK             = 200
	CodeBadRequest     = 400
	CodeUnknownAction  = 404
	CodeInternalFailed = 500
)

const (
	defaultPage     = 1
	defaultPageSize = 10
)

// Event is a single function invocation
type Event struct {
	Action string          `json:"action"`
	Data   json.RawMessage `json:"data,omitempty"`
}

// Response is the envelope returned for every invocation
type Response struct {
	Code  int         `json:"code"`
	Msg   string      `json:"msg"`
	Data  interface{} `json:"data,omitempty"`
	Error string      `json:"error,omitempty"`
}

type idResult struct {
	ID string `json:"id"`
}

type idsResult struct {
	IDs []string `json:"ids"`
}

type updateResult struct {
	Updated int64 `json:"updated"`
}

type deleteResult struct {
	Deleted int64 `json:"deleted"`
}

// blogPayload is the record shape accepted by create and createTestData
type blogPayload struct {
	Content    string      `json:"content"`
	Images     []string    `json:"images"`
	IsFavorite interface{} `json:"isFavorite"`
	CreateTime int64       `json:"createTime"`
	UpdateTime int64       `json:"updateTime"`
}

func (p *blogPayload) blog() *Blog {
	return &Blog{
		Content:    p.Content,
		Images:     p.Images,
		CreateTime: p.CreateTime,
		UpdateTime: p.UpdateTime,
		IsFavorite: truthy(p.IsFavorite),
	}
}

type listRequest struct {
	Page     int64 `json:"page"`
	PageSize int64 `json:"pageSize"`
}

// updateRequest leaves content or images untouched when absent
type updateRequest struct {
	ID      string    `json:"id"`
	Content *string   `json:"content"`
	Images  *[]string `json:"images"`
}

type deleteRequest struct {
	ID string `json:"id"`
}

type favoriteRequest struct {
	ID         string      `json:"id"`
	IsFavorite interface{} `json:"isFavorite"`
}

type handlerFunc func(ctx context.Context, data json.RawMessage) *Response

// DispatcherOptions tunes a Dispatcher
type DispatcherOptions struct {
	MaxPageSize     int
	DisableTestData bool
	Logger          logrus.FieldLogger
}

// Dispatcher routes an Event to the handler registered for its action.
// It holds no per-invocation state and is safe for concurrent use.
type Dispatcher struct {
	blogs       Collection
	comments    Collection
	handlers    map[string]handlerFunc
	maxPageSize int64
	now         func() time.Time
	log         logrus.FieldLogger
}

// NewDispatcher creates a dispatcher over the blogs and comments collections
func NewDispatcher(blogs, comments Collection, opts DispatcherOptions) *Dispatcher {
	d := &Dispatcher{
		blogs:       blogs,
		comments:    comments,
		maxPageSize: int64(opts.MaxPageSize),
		now:         time.Now,
		log:         opts.Logger,
	}
	if d.log == nil {
		d.log = logrus.StandardLogger()
	}

	d.handlers = map[string]handlerFunc{
		ActionGetList:        d.getList,
		ActionCreate:         d.create,
		ActionUpdate:         d.update,
		ActionDelete:         d.delete,
		ActionUpdateFavorite: d.updateFavorite,
		ActionDeleteAll:      d.deleteAll,
	}
	if !opts.DisableTestData {
		d.handlers[ActionCreateTestData] = d.createTestData
	}

	return d
}

// Invoke executes exactly one action and never returns a nil Response
func (d *Dispatcher) Invoke(ctx context.Context, ev *Event) *Response {
	start := time.Now()

	var action string
	var data json.RawMessage
	if ev != nil {
		action, data = ev.Action, ev.Data
	}

	var resp *Response
	if handler, ok := d.handlers[action]; ok {
		resp = handler(ctx, data)
	} else {
		resp = &Response{Code: CodeUnknownAction, Msg: "unknown operation"}
	}

	d.log.WithFields(logrus.Fields{
		"request_id": uuid.New().String(),
		"action":     action,
		"code":       resp.Code,
		"duration":   time.Since(start).String(),
	}).Info("Handled invocation")

	return resp
}

// Handle adapts Invoke to the handler signature used by Lambda and gRPC
func (d *Dispatcher) Handle(ctx context.Context, ev *Event) (*Response, error) {
	return d.Invoke(ctx, ev), nil
}

func (d *Dispatcher) nowMillis() int64 {
	return d.now().UnixMilli()
}

func (d *Dispatcher) storageFailure(action, msg string, err error) *Response {
	d.log.WithFields(logrus.Fields{
		"action": action,
		"error":  err,
	}).Error("Storage call failed")
	return &Response{Code: CodeInternalFailed, Msg: msg, Error: err.Error()}
}

func invalidPayload(err error) *Response {
	return &Response{Code: CodeBadRequest, Msg: "invalid payload", Error: err.Error()}
}

func missingID() *Response {
	return &Response{Code: CodeBadRequest, Msg: "missing id"}
}

func (d *Dispatcher) createTestData(ctx context.Context, data json.RawMessage) *Response {
	trimmed := bytes.TrimSpace(data)
	if len(trimmed) > 0 && trimmed[0] == '[' {
		var payloads []blogPayload
		if err := decodePayload(trimmed, &payloads); err != nil {
			return invalidPayload(err)
		}
		if len(payloads) == 0 {
			return invalidPayload(errors.New("no records to create"))
		}

		docs := make([]interface{}, 0, len(payloads))
		for i := range payloads {
			docs = append(docs, payloads[i].blog())
		}

		ids, err := d.blogs.Add(ctx, docs...)
		if err != nil {
			return d.storageFailure(ActionCreateTestData, "creation failed", err)
		}
		return &Response{Code: CodeOK, Msg: "created", Data: &idsResult{IDs: ids}}
	}

	var payload blogPayload
	if err := decodePayload(trimmed, &payload); err != nil {
		return invalidPayload(err)
	}

	ids, err := d.blogs.Add(ctx, payload.blog())
	if err != nil {
		return d.storageFailure(ActionCreateTestData, "creation failed", err)
	}
	return &Response{Code: CodeOK, Msg: "created", Data: &idResult{ID: firstID(ids)}}
}

func (d *Dispatcher) getList(ctx context.Context, data json.RawMessage) *Response {
	var req listRequest
	if err := decodePayload(data, &req); err != nil {
		return invalidPayload(err)
	}

	query, err := d.pageQuery(req.Page, req.PageSize)
	if err != nil {
		return invalidPayload(err)
	}

	blogs := []*Blog{}
	if err := d.blogs.List(ctx, query, &blogs); err != nil {
		return d.storageFailure(ActionGetList, "fetch failed", err)
	}
	if blogs == nil {
		blogs = []*Blog{}
	}

	return &Response{Code: CodeOK, Msg: "fetched", Data: blogs}
}

// pageQuery turns a 1-based page into a newest-first skip/limit query
func (d *Dispatcher) pageQuery(page, pageSize int64) (*Query, error) {
	if page < 1 {
		page = defaultPage
	}
	if pageSize < 1 {
		pageSize = defaultPageSize
	}
	if d.maxPageSize > 0 && pageSize > d.maxPageSize {
		pageSize = d.maxPageSize
	}

	if page-1 > math.MaxInt64/pageSize {
		return nil, fmt.Errorf("page %d is out of range for pageSize %d", page, pageSize)
	}

	return &Query{
		SortField:  "createTime",
		Descending: true,
		Skip:       (page - 1) * pageSize,
		Limit:      pageSize,
	}, nil
}

func (d *Dispatcher) create(ctx context.Context, data json.RawMessage) *Response {
	var payload blogPayload
	if err := decodePayload(data, &payload); err != nil {
		return invalidPayload(err)
	}

	blog := payload.blog()
	blog.CreateTime = d.nowMillis()

	ids, err := d.blogs.Add(ctx, blog)
	if err != nil {
		return d.storageFailure(ActionCreate, "creation failed", err)
	}
	return &Response{Code: CodeOK, Msg: "created", Data: &idResult{ID: firstID(ids)}}
}

func (d *Dispatcher) update(ctx context.Context, data json.RawMessage) *Response {
	var req updateRequest
	if err := decodePayload(data, &req); err != nil {
		return invalidPayload(err)
	}
	if req.ID == "" {
		return missingID()
	}

	fields := map[string]interface{}{
		"updateTime": d.nowMillis(),
	}
	if req.Content != nil {
		fields["content"] = *req.Content
	}
	if req.Images != nil {
		fields["images"] = *req.Images
	}

	n, err := d.blogs.Update(ctx, req.ID, fields)
	if err != nil {
		return d.storageFailure(ActionUpdate, "update failed", err)
	}
	return &Response{Code: CodeOK, Msg: "updated", Data: &updateResult{Updated: n}}
}

func (d *Dispatcher) delete(ctx context.Context, data json.RawMessage) *Response {
	var req deleteRequest
	if err := decodePayload(data, &req); err != nil {
		return invalidPayload(err)
	}
	if req.ID == "" {
		return missingID()
	}

	n, err := d.blogs.Remove(ctx, req.ID)
	if err != nil {
		return d.storageFailure(ActionDelete, "deletion failed", err)
	}
	return &Response{Code: CodeOK, Msg: "deleted", Data: &deleteResult{Deleted: n}}
}

func (d *Dispatcher) updateFavorite(ctx context.Context, data json.RawMessage) *Response {
	var req favoriteRequest
	if err := decodePayload(data, &req); err != nil {
		return invalidPayload(err)
	}
	if req.ID == "" {
		return missingID()
	}

	favorite := truthy(req.IsFavorite)
	n, err := d.blogs.Update(ctx, req.ID, map[string]interface{}{"isFavorite": favorite})
	if err != nil {
		return d.storageFailure(ActionUpdateFavorite, "operation failed", err)
	}

	msg := "unfavorited"
	if favorite {
		msg = "favorited"
	}
	return &Response{Code: CodeOK, Msg: msg, Data: &updateResult{Updated: n}}
}

// deleteAll empties blogs and then comments. The two removals are not atomic.
func (d *Dispatcher) deleteAll(ctx context.Context, _ json.RawMessage) *Response {
	n, err := d.blogs.RemoveAll(ctx)
	if err != nil {
		return d.storageFailure(ActionDeleteAll, "deletion failed", err)
	}

	if _, err := d.comments.RemoveAll(ctx); err != nil {
		return d.storageFailure(ActionDeleteAll, "deletion failed", fmt.Errorf("blogs removed but comments were not: %v", err))
	}

	return &Response{Code: CodeOK, Msg: "deleted", Data: &deleteResult{Deleted: n}}
}

// decodePayload strictly decodes data into v. Absent or null data leaves v at its zero value.
func decodePayload(data json.RawMessage, v interface{}) error {
	trimmed := bytes.TrimSpace(data)
	if len(trimmed) == 0 || bytes.Equal(trimmed, []byte("null")) {
		return nil
	}

	dec := json.NewDecoder(bytes.NewReader(trimmed))
	dec.DisallowUnknownFields()
	return dec.Decode(v)
}

// truthy applies loose truthiness to a decoded JSON value: false, 0, "" and null are false
func truthy(v interface{}) bool {
	switch t := v.(type) {
	case nil:
		return false
	case bool:
		return t
	case float64:
		return t != 0 && !math.IsNaN(t)
	case string:
		return t != ""
	default:
		return true
	}
}

func firstID(ids []string) string {
	if len(ids) == 0 {
		return ""
	}
	return ids[0]
}
