package submission

import (
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/noah-isme/gema-speaking-lab/internal/progress"
)

func audioActivity() Activity {
	return Activity{
		AssignmentID: 1,
		ID:           10,
		Title:        "Read aloud",
		Kind:         progress.KindAudio,
		Items: []Item{
			{ID: 100, Prompt: "Good morning"},
			{ID: 101, Prompt: "How are you?"},
			{ID: 102, Prompt: "See you tomorrow"},
		},
	}
}

func textActivity() Activity {
	return Activity{
		AssignmentID: 1,
		ID:           20,
		Title:        "Short answer",
		Kind:         progress.KindText,
		Items:        []Item{{ID: 200, Prompt: "What did you eat?"}},
	}
}

func loadStore(t *testing.T, activities ...Activity) *progress.Store {
	t.Helper()
	store := progress.NewStore()
	var entries []progress.ItemProgress
	for _, activity := range activities {
		for _, item := range activity.Items {
			entries = append(entries, progress.ItemProgress{
				Key:  progress.ItemKey{AssignmentID: activity.AssignmentID, ActivityID: activity.ID, ItemID: item.ID},
				Kind: activity.Kind,
			})
		}
	}
	store.Load(entries)
	return store
}

func uploadItem(t *testing.T, store *progress.Store, key progress.ItemKey) progress.RecordingRef {
	t.Helper()
	attempt, err := store.BeginRecording(key)
	require.NoError(t, err)
	local := progress.RecordingRef{Kind: progress.RefLocal, LocalID: key.String(), Attempt: attempt}
	_, err = store.UpsertRecording(key, local)
	require.NoError(t, err)
	remote := local.Remote("https://cdn.example/"+key.String(), "p-"+key.String())
	applied, err := store.CompleteUpload(key, local, remote)
	require.NoError(t, err)
	require.True(t, applied)
	return remote
}

func completeItem(t *testing.T, store *progress.Store, key progress.ItemKey) {
	t.Helper()
	remote := uploadItem(t, store, key)
	applied, err := store.AttachAssessment(key, progress.AssessmentResult{PronunciationScore: 80}, remote)
	require.NoError(t, err)
	require.True(t, applied)
}

func TestCanSubmitReportsOnlyTheUnscoredItem(t *testing.T) {
	activity := audioActivity()
	store := loadStore(t, activity)
	keyFor := func(id uint) progress.ItemKey { return progress.ItemKey{AssignmentID: 1, ActivityID: 10, ItemID: id} }

	completeItem(t, store, keyFor(100))
	completeItem(t, store, keyFor(101))
	uploadItem(t, store, keyFor(102))

	result := CanSubmit([]Activity{activity}, store.Snapshot())
	require.False(t, result.OK)
	require.Len(t, result.Incomplete, 1)
	require.Equal(t, keyFor(102), result.Incomplete[0].Key)
	require.Equal(t, []Requirement{NeedsAssessment}, result.Incomplete[0].Missing)
	require.Contains(t, result.Incomplete[0].Description, "item 3")
	require.Contains(t, result.Incomplete[0].Description, "See you tomorrow")
}

func TestCanSubmitCollectsEveryIncompleteItemInOrder(t *testing.T) {
	audio, text := audioActivity(), textActivity()
	store := loadStore(t, audio, text)
	completeItem(t, store, progress.ItemKey{AssignmentID: 1, ActivityID: 10, ItemID: 101})

	result := CanSubmit([]Activity{audio, text}, store.Snapshot())
	require.False(t, result.OK)
	require.Len(t, result.Incomplete, 3)
	require.Equal(t, uint(100), result.Incomplete[0].Key.ItemID)
	require.Equal(t, []Requirement{NeedsRecording, NeedsAssessment}, result.Incomplete[0].Missing)
	require.Equal(t, uint(102), result.Incomplete[1].Key.ItemID)
	require.Equal(t, uint(200), result.Incomplete[2].Key.ItemID)
	require.Equal(t, []Requirement{NeedsAnswer}, result.Incomplete[2].Missing)
}

func TestCanSubmitAcceptsCompleteAssignment(t *testing.T) {
	audio, text := audioActivity(), textActivity()
	store := loadStore(t, audio, text)
	for _, item := range audio.Items {
		completeItem(t, store, progress.ItemKey{AssignmentID: 1, ActivityID: 10, ItemID: item.ID})
	}
	require.NoError(t, store.SetAnswer(progress.ItemKey{AssignmentID: 1, ActivityID: 20, ItemID: 200}, "Rice"))

	snapshot := store.Snapshot()
	first := CanSubmit([]Activity{audio, text}, snapshot)
	second := CanSubmit([]Activity{audio, text}, snapshot)
	require.True(t, first.OK)
	require.Empty(t, first.Incomplete)
	require.Equal(t, first, second)
}

func TestCanSubmitTreatsWhitespaceAnswerAsMissing(t *testing.T) {
	text := textActivity()
	store := loadStore(t, text)
	require.NoError(t, store.SetAnswer(progress.ItemKey{AssignmentID: 1, ActivityID: 20, ItemID: 200}, "   "))

	result := CanSubmit([]Activity{text}, store.Snapshot())
	require.False(t, result.OK)
	require.Equal(t, "Short answer, item 1 (\"What did you eat?\"): type an answer", result.Incomplete[0].Description)
}

func TestCanSubmitAfterReRecordRequiresNewAssessment(t *testing.T) {
	activity := audioActivity()
	activity.Items = activity.Items[:1]
	store := loadStore(t, activity)
	key := progress.ItemKey{AssignmentID: 1, ActivityID: 10, ItemID: 100}
	completeItem(t, store, key)
	require.True(t, CanSubmit([]Activity{activity}, store.Snapshot()).OK)

	_, err := store.BeginRecording(key)
	require.NoError(t, err)

	result := CanSubmit([]Activity{activity}, store.Snapshot())
	require.False(t, result.OK)
	require.Contains(t, result.Incomplete[0].Missing, NeedsAssessment)
}
