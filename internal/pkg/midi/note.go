package midi

import "fmt"

var valToPitch = map[uint8]string{
	0: "C", 1: "C#", 2: "D", 3: "D#",
	4: "E", 5: "F", 6: "F#", 7: "G",
	8: "G#", 9: "A", 10: "A#", 11: "B",
}

func NoteToPitch(note byte) string {
	return valToPitch[note%12]
}

func NoteToOctave(note byte) int {
	return int(note/12) - 2
}

func noteToString(note byte) string {
	return fmt.Sprintf("%-2s%2d", NoteToPitch(note), NoteToOctave(note))
}
