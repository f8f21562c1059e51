package vehicle

import (
	"errors"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/mock"
	"github.com/stretchr/testify/require"

	"github.com/kwv/trackmesh/protocol"
)

type mockPositionListener struct {
	mock.Mock
}

func (m *mockPositionListener) OnPositionUpdate(p protocol.PositionUpdate) error {
	args := m.Called(p)
	return args.Error(0)
}

// recorder implements several capabilities and records the order of calls.
type recorder struct {
	name string
	log  *[]string
	err  error
}

func (r *recorder) OnPositionUpdate(protocol.PositionUpdate) error {
	*r.log = append(*r.log, r.name+":position")
	return r.err
}

func (r *recorder) OnDelocalized() error {
	*r.log = append(*r.log, r.name+":delocalized")
	return r.err
}

type panicker struct{}

func (panicker) OnPositionUpdate(protocol.PositionUpdate) error {
	panic("boom")
}

type positionFunc func(protocol.PositionUpdate) error

func (f positionFunc) OnPositionUpdate(p protocol.PositionUpdate) error { return f(p) }

type callbackListener struct {
	fn func()
}

func (c *callbackListener) OnPositionUpdate(protocol.PositionUpdate) error {
	c.fn()
	return nil
}

func position(location int) protocol.Notification {
	return protocol.Notification{
		Kind:     protocol.KindPositionUpdate,
		Position: &protocol.PositionUpdate{Location: location, RoadPieceID: 36, RoadPiece: protocol.PieceStraight, Ascending: true},
	}
}

func quietRouter(t *testing.T) (*Router, *[]*DispatchError) {
	t.Helper()
	r := NewRouter()
	var reported []*DispatchError
	r.SetErrorHandler(func(err *DispatchError) { reported = append(reported, err) })
	return r, &reported
}

func TestRouter_DispatchesByCapability(t *testing.T) {
	r, _ := quietRouter(t)

	m := &mockPositionListener{}
	m.On("OnPositionUpdate", mock.MatchedBy(func(p protocol.PositionUpdate) bool { return p.Location == 5 })).Return(nil).Once()
	require.NoError(t, r.Add(m))

	require.NoError(t, r.Dispatch(position(5)))
	require.NoError(t, r.Dispatch(protocol.Notification{Kind: protocol.KindDelocalized}))

	m.AssertExpectations(t)
}

func TestRouter_RegistrationOrder(t *testing.T) {
	r, _ := quietRouter(t)
	var log []string
	a := &recorder{name: "a", log: &log}
	b := &recorder{name: "b", log: &log}
	require.NoError(t, r.Add(a))
	require.NoError(t, r.Add(b))

	require.NoError(t, r.Dispatch(position(1)))
	require.NoError(t, r.Dispatch(protocol.Notification{Kind: protocol.KindDelocalized}))

	assert.Equal(t, []string{"a:position", "b:position", "a:delocalized", "b:delocalized"}, log)
}

func TestRouter_DefaultKindIsNoop(t *testing.T) {
	r, reported := quietRouter(t)
	var log []string
	require.NoError(t, r.Add(&recorder{name: "a", log: &log}))

	err := r.Dispatch(protocol.Notification{Kind: protocol.KindDefault, Raw: []byte{1, 0x77}})
	assert.NoError(t, err)
	assert.Empty(t, log)
	assert.Empty(t, *reported)
	assert.Zero(t, r.Listeners(protocol.KindDefault))
}

func TestRouter_FailuresAreIsolated(t *testing.T) {
	r, reported := quietRouter(t)
	var log []string
	failing := &recorder{name: "failing", log: &log, err: errors.New("listener broke")}
	last := &recorder{name: "last", log: &log}

	require.NoError(t, r.Add(failing))
	require.NoError(t, r.Add(panicker{}))
	require.NoError(t, r.Add(last))

	err := r.Dispatch(position(3))
	require.Error(t, err)

	assert.Equal(t, []string{"failing:position", "last:position"}, log, "later listeners still run")
	require.Len(t, *reported, 2)

	first := (*reported)[0]
	assert.Same(t, failing, first.Listener)
	assert.False(t, first.Panicked)
	assert.EqualError(t, first.Err, "listener broke")

	second := (*reported)[1]
	assert.True(t, second.Panicked)
	assert.Contains(t, second.Error(), "boom")

	var de *DispatchError
	require.True(t, errors.As(err, &de))
	assert.Equal(t, protocol.KindPositionUpdate, de.Kind)
}

func TestRouter_AddDuringDispatch(t *testing.T) {
	r, _ := quietRouter(t)
	late := &mockPositionListener{}
	late.On("OnPositionUpdate", mock.Anything).Return(nil).Once()

	added := false
	adder := &callbackListener{fn: func() {
		if !added {
			added = true
			require.NoError(t, r.Add(late))
		}
	}}
	require.NoError(t, r.Add(adder))

	require.NoError(t, r.Dispatch(position(1)))
	late.AssertNotCalled(t, "OnPositionUpdate", mock.Anything)

	require.NoError(t, r.Dispatch(position(2)))
	late.AssertNumberOfCalls(t, "OnPositionUpdate", 1)
}

func TestRouter_RemoveDuringDispatch(t *testing.T) {
	r, _ := quietRouter(t)
	var log []string
	victim := &recorder{name: "victim", log: &log}
	remover := &callbackListener{fn: func() { r.Remove(victim) }}

	require.NoError(t, r.Add(remover))
	require.NoError(t, r.Add(victim))

	require.NoError(t, r.Dispatch(position(1)))
	require.NoError(t, r.Dispatch(position(2)))

	assert.LessOrEqual(t, len(log), 1, "a removed listener sees at most the event in flight")
}

func TestRouter_RemoveClearsEverySlot(t *testing.T) {
	r, _ := quietRouter(t)
	var log []string
	rec := &recorder{name: "a", log: &log}
	require.NoError(t, r.Add(rec))
	assert.Equal(t, 1, r.Listeners(protocol.KindPositionUpdate))
	assert.Equal(t, 1, r.Listeners(protocol.KindDelocalized))

	r.Remove(rec)
	r.Remove(rec) // unknown listeners are ignored

	assert.Zero(t, r.Listeners(protocol.KindPositionUpdate))
	assert.Zero(t, r.Listeners(protocol.KindDelocalized))
	require.NoError(t, r.Dispatch(position(1)))
	assert.Empty(t, log)
}

func TestRouter_AddRejects(t *testing.T) {
	r, _ := quietRouter(t)

	assert.ErrorIs(t, r.Add(nil), ErrNoCapability)
	assert.ErrorIs(t, r.Add(struct{ name string }{"plain"}), ErrNoCapability)

	fn := positionFunc(func(protocol.PositionUpdate) error { return nil })
	assert.ErrorIs(t, r.Add(fn), ErrNotComparable)
}

func TestRouter_BuiltinState(t *testing.T) {
	r, _ := quietRouter(t)
	assert.False(t, r.Connected())
	assert.False(t, r.OnCharger())

	require.NoError(t, r.Dispatch(protocol.Connected(true)))
	assert.True(t, r.Connected())

	require.NoError(t, r.Dispatch(protocol.Notification{
		Kind:    protocol.KindChargerInfo,
		Charger: &protocol.ChargerInfo{OnTrack: false, OnCharger: true},
	}))
	assert.True(t, r.OnCharger())

	require.NoError(t, r.Dispatch(protocol.Connected(false)))
	assert.False(t, r.Connected())
}

func TestRouter_DefaultErrorHandlerLogs(t *testing.T) {
	var lines []string
	original := Logf
	SetLogger(func(format string, v ...interface{}) { lines = append(lines, format) })
	defer func() { Logf = original }()

	r := NewRouter()
	require.NoError(t, r.Add(panicker{}))
	assert.Error(t, r.Dispatch(position(1)))
	assert.Equal(t, []string{"[ROUTER] %v"}, lines)
}

func TestSetLogger_Nil(t *testing.T) {
	original := Logf
	defer func() { Logf = original }()

	SetLogger(nil)
	assert.NotPanics(t, func() { Logf("ignored %d", 1) })
}
