package feedsync

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net"
	"net/http"
	"strings"
	"time"
)

const defaultHttpTimeout = 60 * time.Second
const defaultHttpConnectTimeout = 5 * time.Second
const defaultHttpTlsTimeout = 5 * time.Second

func defaultClient() *http.Client {
	dialer := &net.Dialer{
		Timeout: defaultHttpConnectTimeout,
	}
	transport := &http.Transport{
		DialContext:         dialer.DialContext,
		TLSHandshakeTimeout: defaultHttpTlsTimeout,
	}
	return &http.Client{
		Transport: transport,
		Timeout:   defaultHttpTimeout,
	}
}

type apiCallback[R any] interface {
	Result(result R, err error)
}

// for internal use
type simpleApiCallback[R any] struct {
	callback func(result R, err error)
}

func NewApiCallback[R any](callback func(result R, err error)) apiCallback[R] {
	return &simpleApiCallback[R]{
		callback: callback,
	}
}

func NewNoopApiCallback[R any]() apiCallback[R] {
	return &simpleApiCallback[R]{
		callback: func(result R, err error) {},
	}
}

func (self *simpleApiCallback[R]) Result(result R, err error) {
	self.callback(result, err)
}

type ApiCallbackResult[R any] struct {
	Result R
	Error  error
}

func NewBlockingApiCallback[R any]() (apiCallback[R], chan ApiCallbackResult[R]) {
	c := make(chan ApiCallbackResult[R])
	apiCallback := NewApiCallback[R](func(result R, err error) {
		c <- ApiCallbackResult[R]{
			Result: result,
			Error:  err,
		}
	})
	return apiCallback, c
}

// the journal platform api. the feed endpoints implement the bulk
// fetch side of synchronization; the note endpoints are the backend
// mutation calls behind optimistic pin/archive/update.
type JournalApi struct {
	ctx    context.Context
	cancel context.CancelFunc

	apiUrl string

	jwt string
}

func NewJournalApi(apiUrl string) *JournalApi {
	return NewJournalApiWithContext(context.Background(), apiUrl)
}

func NewJournalApiWithContext(ctx context.Context, apiUrl string) *JournalApi {
	cancelCtx, cancel := context.WithCancel(ctx)

	return &JournalApi{
		ctx:    cancelCtx,
		cancel: cancel,
		apiUrl: apiUrl,
	}
}

// this gets attached to api calls that need it
func (self *JournalApi) SetJwt(jwt string) {
	self.jwt = jwt
}

type FeedPageArgs struct {
	RangeStart time.Time `json:"range_start"`
	RangeEnd   time.Time `json:"range_end"`
	Filters    []string  `json:"filters,omitempty"`
	Offset     int       `json:"offset"`
	Limit      int       `json:"limit"`
}

func feedPageArgs(query FeedQuery, offset int, limit int) *FeedPageArgs {
	return &FeedPageArgs{
		RangeStart: query.RangeStart,
		RangeEnd:   query.RangeEnd,
		Filters:    query.Filters,
		Offset:     offset,
		Limit:      limit,
	}
}

type EconomicEventsPageCallback apiCallback[*EconomicEventsPageResult]

type EconomicEventsPageResult struct {
	Events     []EconomicEvent `json:"events"`
	HasMore    bool            `json:"has_more"`
	NextOffset int             `json:"next_offset,omitempty"`
}

func (self *JournalApi) FetchEconomicEvents(args *FeedPageArgs, callback EconomicEventsPageCallback) {
	go post(
		self.ctx,
		fmt.Sprintf("%s/feed/economic-events", self.apiUrl),
		args,
		self.jwt,
		&EconomicEventsPageResult{},
		callback,
	)
}

func (self *JournalApi) FetchEconomicEventsSync(ctx context.Context, args *FeedPageArgs) (*EconomicEventsPageResult, error) {
	return post(
		ctx,
		fmt.Sprintf("%s/feed/economic-events", self.apiUrl),
		args,
		self.jwt,
		&EconomicEventsPageResult{},
		NewNoopApiCallback[*EconomicEventsPageResult](),
	)
}

// adapts the economic events endpoint to the fetch service contract
func (self *JournalApi) EconomicEventSource() FetchService[EconomicEvent] {
	return FetchServiceFunc[EconomicEvent](func(ctx context.Context, query FeedQuery, offset int, limit int) (*FetchPageResult[EconomicEvent], error) {
		result, err := self.FetchEconomicEventsSync(ctx, feedPageArgs(query, offset, limit))
		if err != nil {
			return nil, err
		}
		return &FetchPageResult[EconomicEvent]{
			Items:      result.Events,
			HasMore:    result.HasMore,
			NextOffset: result.NextOffset,
		}, nil
	})
}

type ReminderNotesPageCallback apiCallback[*ReminderNotesPageResult]

type ReminderNotesPageResult struct {
	Notes      []ReminderNote `json:"notes"`
	HasMore    bool           `json:"has_more"`
	NextOffset int            `json:"next_offset,omitempty"`
}

func (self *JournalApi) FetchReminderNotes(args *FeedPageArgs, callback ReminderNotesPageCallback) {
	go post(
		self.ctx,
		fmt.Sprintf("%s/feed/reminder-notes", self.apiUrl),
		args,
		self.jwt,
		&ReminderNotesPageResult{},
		callback,
	)
}

func (self *JournalApi) FetchReminderNotesSync(ctx context.Context, args *FeedPageArgs) (*ReminderNotesPageResult, error) {
	return post(
		ctx,
		fmt.Sprintf("%s/feed/reminder-notes", self.apiUrl),
		args,
		self.jwt,
		&ReminderNotesPageResult{},
		NewNoopApiCallback[*ReminderNotesPageResult](),
	)
}

func (self *JournalApi) ReminderNoteSource() FetchService[ReminderNote] {
	return FetchServiceFunc[ReminderNote](func(ctx context.Context, query FeedQuery, offset int, limit int) (*FetchPageResult[ReminderNote], error) {
		result, err := self.FetchReminderNotesSync(ctx, feedPageArgs(query, offset, limit))
		if err != nil {
			return nil, err
		}
		return &FetchPageResult[ReminderNote]{
			Items:      result.Notes,
			HasMore:    result.HasMore,
			NextOffset: result.NextOffset,
		}, nil
	})
}

type SetNotePinnedCallback apiCallback[*SetNotePinnedResult]

type SetNotePinnedArgs struct {
	NoteId   Id   `json:"note_id"`
	IsPinned bool `json:"is_pinned"`
}

type SetNotePinnedResult struct {
	Error *NoteResultError `json:"error,omitempty"`
}

type NoteResultError struct {
	Message string `json:"message"`
}

func (self *JournalApi) SetNotePinned(args *SetNotePinnedArgs, callback SetNotePinnedCallback) {
	go post(
		self.ctx,
		fmt.Sprintf("%s/notes/pin", self.apiUrl),
		args,
		self.jwt,
		&SetNotePinnedResult{},
		callback,
	)
}

// no partial success. a nil return confirms the mutation.
func (self *JournalApi) SetNotePinnedSync(ctx context.Context, args *SetNotePinnedArgs) error {
	result, err := post(
		ctx,
		fmt.Sprintf("%s/notes/pin", self.apiUrl),
		args,
		self.jwt,
		&SetNotePinnedResult{},
		NewNoopApiCallback[*SetNotePinnedResult](),
	)
	if err != nil {
		return err
	}
	if result.Error != nil {
		return errors.New(result.Error.Message)
	}
	return nil
}

type ArchiveNoteCallback apiCallback[*ArchiveNoteResult]

type ArchiveNoteArgs struct {
	NoteId     Id   `json:"note_id"`
	IsArchived bool `json:"is_archived"`
}

type ArchiveNoteResult struct {
	Error *NoteResultError `json:"error,omitempty"`
}

func (self *JournalApi) ArchiveNote(args *ArchiveNoteArgs, callback ArchiveNoteCallback) {
	go post(
		self.ctx,
		fmt.Sprintf("%s/notes/archive", self.apiUrl),
		args,
		self.jwt,
		&ArchiveNoteResult{},
		callback,
	)
}

func (self *JournalApi) ArchiveNoteSync(ctx context.Context, args *ArchiveNoteArgs) error {
	result, err := post(
		ctx,
		fmt.Sprintf("%s/notes/archive", self.apiUrl),
		args,
		self.jwt,
		&ArchiveNoteResult{},
		NewNoopApiCallback[*ArchiveNoteResult](),
	)
	if err != nil {
		return err
	}
	if result.Error != nil {
		return errors.New(result.Error.Message)
	}
	return nil
}

type UpdateNoteCallback apiCallback[*UpdateNoteResult]

type UpdateNoteArgs struct {
	Note ReminderNote `json:"note"`
}

type UpdateNoteResult struct {
	Error *NoteResultError `json:"error,omitempty"`
}

func (self *JournalApi) UpdateNote(args *UpdateNoteArgs, callback UpdateNoteCallback) {
	go post(
		self.ctx,
		fmt.Sprintf("%s/notes/update", self.apiUrl),
		args,
		self.jwt,
		&UpdateNoteResult{},
		callback,
	)
}

func (self *JournalApi) UpdateNoteSync(ctx context.Context, args *UpdateNoteArgs) error {
	result, err := post(
		ctx,
		fmt.Sprintf("%s/notes/update", self.apiUrl),
		args,
		self.jwt,
		&UpdateNoteResult{},
		NewNoopApiCallback[*UpdateNoteResult](),
	)
	if err != nil {
		return err
	}
	if result.Error != nil {
		return errors.New(result.Error.Message)
	}
	return nil
}

func post[R any](ctx context.Context, url string, args any, jwt string, result R, callback apiCallback[R]) (R, error) {
	var requestBodyBytes []byte
	if args == nil {
		requestBodyBytes = make([]byte, 0)
	} else {
		var err error
		requestBodyBytes, err = json.Marshal(args)
		if err != nil {
			var empty R
			callback.Result(empty, err)
			return empty, err
		}
	}

	req, err := http.NewRequestWithContext(ctx, "POST", url, bytes.NewReader(requestBodyBytes))
	if err != nil {
		var empty R
		callback.Result(empty, err)
		return empty, err
	}

	req.Header.Add("Content-Type", "text/json")

	if jwt != "" {
		auth := fmt.Sprintf("Bearer %s", jwt)
		req.Header.Add("Authorization", auth)
	}

	client := defaultClient()
	r, err := client.Do(req)
	if err != nil {
		var empty R
		callback.Result(empty, err)
		return empty, err
	}
	defer r.Body.Close()

	responseBodyBytes, err := io.ReadAll(r.Body)

	if http.StatusOK != r.StatusCode {
		// the response body is the error message
		errorMessage := strings.TrimSpace(string(responseBodyBytes))
		err = errors.New(errorMessage)
		callback.Result(result, err)
		return result, err
	}

	if err != nil {
		callback.Result(result, err)
		return result, err
	}

	err = json.Unmarshal(responseBodyBytes, &result)
	if err != nil {
		var empty R
		callback.Result(empty, err)
		return empty, err
	}

	callback.Result(result, nil)
	return result, nil
}
