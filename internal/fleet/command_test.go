package fleet

import (
	"context"
	"encoding/json"
	"errors"
	"sync/atomic"
	"testing"

	"github.com/stretchr/testify/require"

	"printfarm/core-go/internal/moonraker"
	"printfarm/core-go/internal/telemetry"
)

func ptr[T any](v T) *T { return &v }

func scripts(reqs []moonraker.Request) []string {
	out := make([]string, 0, len(reqs))
	for _, r := range reqs {
		out = append(out, r.Query.Get("script"))
	}
	return out
}

func TestPlanCommand_GCodeMapping(t *testing.T) {
	cases := []struct {
		cmd  Command
		want []string
	}{
		{Command{Verb: VerbSetNozzleTemp, Target: ptr(214.6)}, []string{"M104 S215"}},
		{Command{Verb: VerbSetBedTemp, Target: ptr(60.0)}, []string{"M140 S60"}},
		{Command{Verb: VerbEmergencyStop}, []string{"M112"}},
		{Command{Verb: VerbFirmwareRestart}, []string{"FIRMWARE_RESTART"}},
		{Command{Verb: VerbAFCLoad, Lane: ptr(2)}, []string{"TOOL_LOAD LANE=lane2"}},
		{Command{Verb: VerbAFCUnload}, []string{"TOOL_UNLOAD"}},
		{Command{Verb: VerbAFCUnload, Lane: ptr(3)}, []string{"TOOL_UNLOAD LANE=lane3"}},
		{Command{Verb: VerbAFCEject, Lane: ptr(1)}, []string{"LANE_UNLOAD LANE=lane1"}},
		{Command{Verb: VerbAFCEject}, []string{"TOOL_UNLOAD"}},
		{Command{Verb: VerbAFCCut}, []string{"AFC_CUT"}},
		{Command{Verb: VerbAFCPoop}, []string{"AFC_POOP"}},
		{Command{Verb: VerbAFCBrush}, []string{"AFC_BRUSH"}},
		{Command{Verb: VerbAFCPark}, []string{"AFC_PARK"}},
		{Command{Verb: VerbAFCStats}, []string{"AFC_STATS"}},
		{Command{Verb: VerbAFCCalibrate}, []string{"AFC_CALIBRATION"}},
		{Command{Verb: VerbAFCLEDOn}, []string{"TURN_ON_AFC_LED"}},
		{Command{Verb: VerbAFCLEDOff}, []string{"TURN_OFF_AFC_LED"}},
		{Command{Verb: VerbAFCQuietMode}, []string{"AFC_QUIET_MODE"}},
		{Command{Verb: VerbAFCClearMessage}, []string{"AFC_CLEAR_MESSAGE"}},
		{Command{Verb: VerbAFCResetMotorTime}, []string{"AFC_RESET_MOTOR_TIME"}},
		{
			Command{Verb: VerbAFCLaneUpdate, Lane: ptr(4), Material: ptr("PETG"), Color: ptr("FF8800"), SpoolID: ptr("17")},
			[]string{"SET_MATERIAL LANE=lane4 MATERIAL=PETG", "SET_COLOR LANE=lane4 COLOR=FF8800", "SET_SPOOL_ID LANE=lane4 SPOOL_ID=17"},
		},
		{
			Command{Verb: VerbAFCLaneUpdate, Lane: ptr(1), Color: ptr("000000")},
			[]string{"SET_COLOR LANE=lane1 COLOR=000000"},
		},
	}
	for _, tc := range cases {
		p, err := planCommand(tc.cmd)
		require.NoError(t, err, "verb %s", tc.cmd.Verb)
		require.Equal(t, tc.want, scripts(p.requests), "verb %s", tc.cmd.Verb)
	}
}

func TestPlanCommand_PrintControlPaths(t *testing.T) {
	cases := map[Verb]string{
		VerbPause:  moonraker.PathPrintPause,
		VerbResume: moonraker.PathPrintResume,
		VerbCancel: moonraker.PathPrintCancel,
	}
	for verb, path := range cases {
		p, err := planCommand(Command{Verb: verb})
		require.NoError(t, err)
		require.Len(t, p.requests, 1)
		require.Equal(t, path, p.requests[0].Path)
		require.False(t, p.settle)
	}

	p, err := planCommand(Command{Verb: VerbStartPrint, Filename: "parts/benchy.gcode"})
	require.NoError(t, err)
	require.Equal(t, "filename=parts%2Fbenchy.gcode", p.requests[0].Encode())

	p, err = planCommand(Command{Verb: VerbExcludeObject, Object: "PART_2"})
	require.NoError(t, err)
	require.Equal(t, moonraker.PathExcludeObject, p.requests[0].Path)
	require.Equal(t, "PART_2", p.requests[0].Query.Get("name"))
}

func TestPlanCommand_RawAliases(t *testing.T) {
	p, err := planCommand(Command{Verb: VerbGCode, Script: " m112 "})
	require.NoError(t, err)
	require.Equal(t, VerbEmergencyStop, p.verb)
	require.Equal(t, telemetry.StatusError, p.optimistic)

	p, err = planCommand(Command{Verb: VerbGCode, Script: "firmware_restart"})
	require.NoError(t, err)
	require.Equal(t, VerbFirmwareRestart, p.verb)
	require.Equal(t, telemetry.StatusOffline, p.optimistic)

	p, err = planCommand(Command{Verb: VerbGCode, Script: "G28"})
	require.NoError(t, err)
	require.Equal(t, VerbGCode, p.verb)
	require.Empty(t, p.optimistic)
	require.Equal(t, "> G28", p.logLine)
}

func TestPlanCommand_Rejects(t *testing.T) {
	invalidCmds := []Command{
		{Verb: VerbStartPrint},
		{Verb: VerbSetNozzleTemp},
		{Verb: VerbSetBedTemp, Target: ptr(-5.0)},
		{Verb: VerbGCode, Script: "   "},
		{Verb: VerbExcludeObject},
		{Verb: VerbAFCLoad},
		{Verb: VerbAFCLoad, Lane: ptr(-1)},
		{Verb: VerbAFCLaneUpdate, Lane: ptr(1)},
		{Verb: VerbAFCLaneUpdate, Lane: ptr(1), Material: ptr("PLA PRO")},
		{Verb: VerbAFCLaneUpdate, Material: ptr("PLA")},
	}
	for _, cmd := range invalidCmds {
		_, err := planCommand(cmd)
		require.ErrorIs(t, err, ErrInvalidCommand, "command %+v", cmd)
	}

	_, err := planCommand(Command{Verb: "self_destruct"})
	var unknown *UnknownCommandError
	require.ErrorAs(t, err, &unknown)
	require.Equal(t, Verb("self_destruct"), unknown.Verb)
}

func TestSendCommand_UnknownVerbIssuesNoRequest(t *testing.T) {
	h, ids := newHarness(t, "voron.local")
	h.gw.healthy()

	_, err := h.sync.SendCommand(context.Background(), ids[0], Command{Verb: "warp_drive"})
	var unknown *UnknownCommandError
	require.True(t, errors.As(err, &unknown))
	require.Empty(t, h.gw.requests(""))
}

func TestSendCommand_UnknownDevice(t *testing.T) {
	h, _ := newHarness(t)
	_, err := h.sync.SendCommand(context.Background(), "nope", Command{Verb: VerbPause})
	require.ErrorIs(t, err, ErrUnknownDevice)
}

func TestSendCommand_EmergencyStopKeepsErrorOnTransportFailure(t *testing.T) {
	h, ids := newHarness(t, "voron.local")
	h.gw.healthy()
	_, err := h.sync.PollOne(context.Background(), ids[0])
	require.NoError(t, err)

	h.gw.fail(moonraker.PathGCodeScript)
	st, err := h.sync.SendCommand(context.Background(), ids[0], Command{Verb: VerbEmergencyStop})
	require.NoError(t, err)
	require.Equal(t, telemetry.StatusError, st.Status)
	require.Empty(t, st.TerminalLog)
	require.Contains(t, h.notifier.types(), EventCommandSucceeded)
}

func TestSendCommand_OptimisticStatusVisibleBeforeDispatchResolves(t *testing.T) {
	cases := []struct {
		name string
		cmd  Command
		want telemetry.PrintStatus
	}{
		{"emergency stop", Command{Verb: VerbEmergencyStop}, telemetry.StatusError},
		{"firmware restart", Command{Verb: VerbFirmwareRestart}, telemetry.StatusOffline},
		{"raw M112", Command{Verb: VerbGCode, Script: "m112"}, telemetry.StatusError},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			h, ids := newHarness(t, "voron.local")
			h.gw.healthy()
			_, err := h.sync.PollOne(context.Background(), ids[0])
			require.NoError(t, err)

			var during telemetry.PrintStatus
			h.gw.handle(moonraker.PathGCodeScript, func(context.Context, string) (json.RawMessage, error) {
				st, err := h.sync.Device(ids[0])
				if err != nil {
					return nil, err
				}
				during = st.Status
				return nil, errUnreachable
			})

			_, err = h.sync.SendCommand(context.Background(), ids[0], tc.cmd)
			require.NoError(t, err)
			require.Equal(t, tc.want, during)
		})
	}
}

func TestSendCommand_FirmwareRestartGoesOffline(t *testing.T) {
	h, ids := newHarness(t, "voron.local")
	h.gw.healthy()
	_, err := h.sync.PollOne(context.Background(), ids[0])
	require.NoError(t, err)

	st, err := h.sync.SendCommand(context.Background(), ids[0], Command{Verb: VerbGCode, Script: "FIRMWARE_RESTART"})
	require.NoError(t, err)
	require.Equal(t, telemetry.StatusOffline, st.Status)
	require.Equal(t, []string{"> FIRMWARE_RESTART"}, st.TerminalLog)
}

func TestSendCommand_FailureIsReportedWithoutMutation(t *testing.T) {
	h, ids := newHarness(t, "voron.local")
	h.gw.healthy()
	before, err := h.sync.PollOne(context.Background(), ids[0])
	require.NoError(t, err)

	h.gw.fail(moonraker.PathPrintPause)
	_, err = h.sync.SendCommand(context.Background(), ids[0], Command{Verb: VerbPause})
	require.True(t, moonraker.IsTransport(err))

	after, err := h.sync.Device(ids[0])
	require.NoError(t, err)
	require.Equal(t, before.Status, after.Status)
	require.Contains(t, h.notifier.types(), EventCommandFailed)
}

func TestSendCommand_RawAppendsTerminalLog(t *testing.T) {
	h, ids := newHarness(t, "voron.local")
	h.gw.body(moonraker.PathGCodeScript, `{"result":"ok"}`)

	var st DeviceState
	var err error
	for i := 0; i < TerminalLogCapacity+5; i++ {
		st, err = h.sync.SendCommand(context.Background(), ids[0], Command{Verb: VerbGCode, Script: "G28"})
		require.NoError(t, err)
	}
	require.Len(t, st.TerminalLog, TerminalLogCapacity)
	require.Equal(t, "> G28", st.TerminalLog[0])
}

func TestSendCommand_SetTemperatureConfirmsTarget(t *testing.T) {
	h, ids := newHarness(t, "voron.local")
	h.gw.body(moonraker.PathGCodeScript, `{"result":"ok"}`)

	st, err := h.sync.SendCommand(context.Background(), ids[0], Command{Verb: VerbSetBedTemp, Target: ptr(65.0)})
	require.NoError(t, err)
	require.Equal(t, 65, st.Temperatures.BedTarget)
	require.Equal(t, 0, st.Temperatures.NozzleTarget)
}

func TestSendCommand_ConfirmedTargetSurvivesOlderPoll(t *testing.T) {
	h, ids := newHarness(t, "voron.local")
	h.gw.body(moonraker.PathGCodeScript, `{"result":"ok"}`)

	entered := make(chan struct{})
	release := make(chan struct{})
	var calls atomic.Int32
	h.gw.handle(moonraker.PathObjectsQuery, func(ctx context.Context, _ string) (json.RawMessage, error) {
		if calls.Add(1) == 1 {
			close(entered)
			<-release
			return json.RawMessage(statusIdle), nil
		}
		<-ctx.Done()
		return nil, ctx.Err()
	})

	polled := make(chan DeviceState)
	go func() {
		st, _ := h.sync.PollOne(context.Background(), ids[0])
		polled <- st
	}()
	<-entered

	st, err := h.sync.SendCommand(context.Background(), ids[0], Command{Verb: VerbSetNozzleTemp, Target: ptr(215.0)})
	require.NoError(t, err)
	require.Equal(t, 215, st.Temperatures.NozzleTarget)

	close(release)
	<-polled

	st, err = h.sync.Device(ids[0])
	require.NoError(t, err)
	require.Equal(t, 215, st.Temperatures.NozzleTarget)
}

func TestSendCommand_LaneUpdateStopsAtFirstFailure(t *testing.T) {
	h, ids := newHarness(t, "voron.local")
	calls := 0
	h.gw.handle(moonraker.PathGCodeScript, func(context.Context, string) (json.RawMessage, error) {
		calls++
		if calls == 2 {
			return nil, errUnreachable
		}
		return json.RawMessage(`{"result":"ok"}`), nil
	})

	_, err := h.sync.SendCommand(context.Background(), ids[0], Command{
		Verb: VerbAFCLaneUpdate, Lane: ptr(1), Material: ptr("PLA"), Color: ptr("FF0000"), SpoolID: ptr("3"),
	})
	require.Error(t, err)
	require.Equal(t, []string{"SET_MATERIAL LANE=lane1 MATERIAL=PLA", "SET_COLOR LANE=lane1 COLOR=FF0000"},
		scripts(h.gw.requests(moonraker.PathGCodeScript)))
}
