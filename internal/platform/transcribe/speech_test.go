package transcribe

import (
	"testing"

	speechpb "cloud.google.com/go/speech/apiv1/speechpb"
	"google.golang.org/grpc/codes"
	"google.golang.org/grpc/status"
	"google.golang.org/protobuf/types/known/durationpb"
)

func TestGroupBySpeakerFoldsConsecutiveWords(t *testing.T) {
	words := []word{
		{text: "hi", start: 0, end: 0.4, speaker: 1},
		{text: "there", start: 0.4, end: 0.8, speaker: 1},
		{text: "hello", start: 1.0, end: 1.5, speaker: 2},
		{text: "back", start: 1.5, end: 1.9, speaker: 2},
		{text: "ok", start: 2.2, end: 2.5, speaker: 1},
	}
	segs := groupBySpeaker(words)
	if len(segs) != 3 {
		t.Fatalf("segments = %d, want 3", len(segs))
	}
	if segs[0].Text != "hi there" || segs[0].Speaker != 1 {
		t.Errorf("seg[0] = %+v", segs[0])
	}
	if segs[1].Text != "hello back" || segs[1].Speaker != 2 {
		t.Errorf("seg[1] = %+v", segs[1])
	}
	if segs[1].StartSec != 1.0 || segs[1].EndSec != 1.9 {
		t.Errorf("seg[1] span = %v..%v", segs[1].StartSec, segs[1].EndSec)
	}
	if segs[2].Text != "ok" || segs[2].Speaker != 1 {
		t.Errorf("seg[2] = %+v", segs[2])
	}
}

func TestGroupBySpeakerEmpty(t *testing.T) {
	if segs := groupBySpeaker(nil); segs != nil {
		t.Errorf("segments = %v, want nil", segs)
	}
}

func TestParseResponseJoinsResultsAndDuration(t *testing.T) {
	resp := &speechpb.LongRunningRecognizeResponse{
		Results: []*speechpb.SpeechRecognitionResult{
			{Alternatives: []*speechpb.SpeechRecognitionAlternative{{
				Transcript: "hi there",
				Words: []*speechpb.WordInfo{
					{Word: "hi", StartTime: durationpb.New(0), EndTime: dur(0.4), SpeakerTag: 1},
					{Word: "there", StartTime: dur(0.4), EndTime: dur(0.8), SpeakerTag: 1},
				},
			}}},
			{Alternatives: []*speechpb.SpeechRecognitionAlternative{{
				Transcript: "hello back",
				Words: []*speechpb.WordInfo{
					{Word: "hello", StartTime: dur(1.0), EndTime: dur(1.5), SpeakerTag: 2},
					{Word: "back", StartTime: dur(1.5), EndTime: dur(1.9), SpeakerTag: 2},
				},
			}}},
		},
	}
	got := parseResponse(resp)
	if got.Text != "hi there hello back" {
		t.Errorf("text = %q", got.Text)
	}
	if len(got.Segments) != 2 {
		t.Fatalf("segments = %d, want 2", len(got.Segments))
	}
	if got.DurationSec < 1.89 || got.DurationSec > 1.91 {
		t.Errorf("duration = %v, want ~1.9", got.DurationSec)
	}
}

func TestParseResponseEmpty(t *testing.T) {
	got := parseResponse(nil)
	if got.Text != "" || got.Segments != nil {
		t.Errorf("parseResponse(nil) = %+v", got)
	}
}

func TestInferEncoding(t *testing.T) {
	cases := []struct {
		path string
		want speechpb.RecognitionConfig_AudioEncoding
	}{
		{"call.WAV", speechpb.RecognitionConfig_LINEAR16},
		{"call.mp3", speechpb.RecognitionConfig_MP3},
		{"call.opus", speechpb.RecognitionConfig_OGG_OPUS},
		{"call.m4a", speechpb.RecognitionConfig_ENCODING_UNSPECIFIED},
	}
	for _, tc := range cases {
		if got := inferEncoding(tc.path); got != tc.want {
			t.Errorf("inferEncoding(%q) = %v, want %v", tc.path, got, tc.want)
		}
	}
}

func TestIsBadAudio(t *testing.T) {
	if !IsBadAudio(status.Error(codes.InvalidArgument, "sample rate")) {
		t.Error("InvalidArgument must count as bad audio")
	}
	if IsBadAudio(status.Error(codes.Unavailable, "flaky")) {
		t.Error("Unavailable is transient, not bad audio")
	}
}

func dur(sec float64) *durationpb.Duration {
	s := int64(sec)
	return &durationpb.Duration{Seconds: s, Nanos: int32((sec - float64(s)) * 1e9)}
}
