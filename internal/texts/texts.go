// Package texts holds every fixed message the service sends to contacts.
// The community is Spanish-speaking; the gatekeeping question is community
// trivia whose answer members know.
package texts

// FilterQuestion is the community-membership check sent on first contact.
const FilterQuestion = "Hola, gracias por escribirnos. Antes de continuar: " +
	"¿cuántas regiones tiene nuestra comunidad? Responde solo con el número."

// acceptedFilterAnswers are the normalized (trimmed, lowercased) replies
// that pass the membership check.
var acceptedFilterAnswers = map[string]bool{
	"6":     true,
	"seis":  true,
	"6.":    true,
	"seis.": true,
}

// FilterAccepts reports whether a normalized reply passes the membership
// check.
func FilterAccepts(normalized string) bool {
	return acceptedFilterAnswers[normalized]
}

// CrisisPrompt asks for the self-reported severity ladder.
const CrisisPrompt = "Gracias. Para poder ayudarte mejor, dinos cómo te sientes " +
	"ahora mismo, del 1 al 5:\n" +
	"1. Necesito hablar con alguien\n" +
	"2. Estoy pasando por un momento difícil\n" +
	"3. Me siento desbordada/o\n" +
	"4. Tengo pensamientos que me asustan\n" +
	"5. Estoy en peligro ahora mismo\n" +
	"Responde solo con el número."

// EmergencyResources goes to contacts who fail the membership check; their
// data is not retained, but they still get pointed somewhere.
const EmergencyResources = "Lo sentimos, este servicio es solo para miembros de " +
	"la comunidad. Si estás en crisis, llama a la Línea de la Vida: 800-911-2000. " +
	"Emergencias: 911."

// Rotation is the "please wait" re-engagement cycle for unclaimed
// conversations, indexed by auto_message_count modulo its length.
var Rotation = []string{
	"Ya recibimos tu mensaje. Una persona voluntaria te atenderá muy pronto, no te vayas.",
	"Seguimos buscando a alguien del equipo para ti. Gracias por tu paciencia.",
	"No te hemos olvidado. En cuanto haya una persona disponible te escribirá.",
	"Seguimos aquí. Tu mensaje es importante y pronto te responderemos.",
}

// SurveyRequest is sent when a conversation is closed, opening the survey
// grace window.
const SurveyRequest = "Gracias por confiar en nosotras. ¿Qué tan útil fue esta " +
	"conversación, del 1 (nada útil) al 5 (muy útil)? Tu respuesta es anónima."
