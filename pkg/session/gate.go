package session

// ShouldPlay is the playback gate: a synthesized audio payload is rendered
// if and only if the immediately preceding user turn was spoken. A user who
// typed is never interrupted by audio; a user who spoke expects a spoken
// reply. The gate applies uniformly to plain turns, suggestions,
// comparisons, and artifact notifications.
func ShouldPlay(modality Modality, hasAudio bool) bool {
	return modality == ModalityVoice && hasAudio
}
